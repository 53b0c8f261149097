package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

const personSelect = "id,displayName,givenName,surname,jobTitle,department,companyName,scoredEmailAddresses,userPrincipalName"

type person struct {
	ID                   string        `json:"id"`
	DisplayName          string        `json:"displayName"`
	JobTitle             string        `json:"jobTitle,omitempty"`
	Department           string        `json:"department,omitempty"`
	CompanyName          string        `json:"companyName,omitempty"`
	UserPrincipalName    string        `json:"userPrincipalName,omitempty"`
	ScoredEmailAddresses []scoredEmail `json:"scoredEmailAddresses,omitempty"`
}

type scoredEmail struct {
	Address string `json:"address"`
}

// Person is the tool shape of a person.
type Person struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Emails      []string `json:"emails"`
	JobTitle    string   `json:"jobTitle,omitempty"`
	Department  string   `json:"department,omitempty"`
	Company     string   `json:"companyName,omitempty"`
}

func toPerson(p person) Person {
	out := Person{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Emails:      []string{},
		JobTitle:    p.JobTitle,
		Department:  p.Department,
		Company:     p.CompanyName,
	}
	for _, e := range p.ScoredEmailAddresses {
		out.Emails = append(out.Emails, e.Address)
	}
	if len(out.Emails) == 0 && p.UserPrincipalName != "" {
		out.Emails = append(out.Emails, p.UserPrincipalName)
	}
	return out
}

func toPeople(c collection[person]) listResult[Person] {
	out := collection[Person]{NextLink: c.NextLink}
	for _, p := range c.Value {
		out.Value = append(out.Value, toPerson(p))
	}
	return toList(out)
}

type peopleModule struct {
	client *graph.Client
}

// People exposes people and directory lookup tools.
func People(client *graph.Client) tools.Module {
	p := &peopleModule{client: client}
	return tools.Module{
		Name: "people",
		Methods: []*tools.Method{
			{
				Name:        "find",
				Description: "Find people by name or email",
				HTTPMethod:  http.MethodGet,
				Path:        "/people/find",
				Params: []tools.Param{
					{Name: "query", Type: tools.TypeString, Description: "Name or email fragment", Required: true},
					topParam(defaultTop),
				},
				Handler: p.find,
			},
			{
				Name:        "relevant",
				Description: "List the people most relevant to the signed-in user",
				HTTPMethod:  http.MethodGet,
				Path:        "/people/relevant",
				Params:      []tools.Param{topParam(defaultTop)},
				Handler:     p.relevant,
			},
			{
				Name:        "get",
				Description: "Get a directory user by id or user principal name",
				HTTPMethod:  http.MethodGet,
				Path:        "/people/{id}",
				Params:      []tools.Param{idParam("id", "User id or user principal name")},
				Handler:     p.get,
			},
		},
	}
}

func (p *peopleModule) find(ctx context.Context, args tools.Args) (any, error) {
	q := query(
		"$search", quoteSearch(args.String("query")),
		"$top", itoa(args.Int("top", defaultTop)),
		"$select", personSelect,
	)
	var out collection[person]
	if err := p.client.Get(ctx, args.AccessToken(), "/me/people", q, &out); err != nil {
		return nil, err
	}
	return toPeople(out), nil
}

func (p *peopleModule) relevant(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", defaultTop)), "$select", personSelect)
	var out collection[person]
	if err := p.client.Get(ctx, args.AccessToken(), "/me/people", q, &out); err != nil {
		return nil, err
	}
	return toPeople(out), nil
}

func (p *peopleModule) get(ctx context.Context, args tools.Args) (any, error) {
	var u struct {
		ID                string   `json:"id"`
		DisplayName       string   `json:"displayName"`
		Mail              string   `json:"mail"`
		UserPrincipalName string   `json:"userPrincipalName"`
		JobTitle          string   `json:"jobTitle"`
		Department        string   `json:"department"`
		OfficeLocation    string   `json:"officeLocation"`
		BusinessPhones    []string `json:"businessPhones"`
		MobilePhone       string   `json:"mobilePhone"`
	}
	q := query("$select", "id,displayName,mail,userPrincipalName,jobTitle,department,officeLocation,businessPhones,mobilePhone")
	if err := p.client.Get(ctx, args.AccessToken(), "/users/"+seg(args.String("id")), q, &u); err != nil {
		return nil, err
	}
	return u, nil
}
