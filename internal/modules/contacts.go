package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

type contact struct {
	ID             string         `json:"id,omitempty"`
	DisplayName    string         `json:"displayName,omitempty"`
	GivenName      string         `json:"givenName,omitempty"`
	Surname        string         `json:"surname,omitempty"`
	EmailAddresses []emailAddress `json:"emailAddresses,omitempty"`
	BusinessPhones []string       `json:"businessPhones,omitempty"`
	MobilePhone    string         `json:"mobilePhone,omitempty"`
	CompanyName    string         `json:"companyName,omitempty"`
	JobTitle       string         `json:"jobTitle,omitempty"`
}

const contactSelect = "id,displayName,givenName,surname,emailAddresses,businessPhones,mobilePhone,companyName,jobTitle"

type contactsModule struct {
	client *graph.Client
}

// Contacts exposes Outlook contact tools.
func Contacts(client *graph.Client) tools.Module {
	c := &contactsModule{client: client}
	return tools.Module{
		Name: "contacts",
		Methods: []*tools.Method{
			{
				Name:        "list",
				Description: "List contacts, optionally filtered by display name prefix",
				HTTPMethod:  http.MethodGet,
				Path:        "/contacts",
				Params: []tools.Param{
					{Name: "startsWith", Type: tools.TypeString, Description: "Display name prefix"},
					topParam(25),
				},
				Handler: c.list,
			},
			{
				Name:        "get",
				Description: "Get a contact",
				HTTPMethod:  http.MethodGet,
				Path:        "/contacts/{id}",
				Params:      []tools.Param{idParam("id", "Contact id")},
				Handler:     c.get,
			},
			{
				Name:        "create",
				Description: "Create a contact",
				HTTPMethod:  http.MethodPost,
				Path:        "/contacts",
				Created:     true,
				Params: []tools.Param{
					{Name: "givenName", Type: tools.TypeString, Description: "First name", Required: true},
					{Name: "surname", Type: tools.TypeString, Description: "Last name"},
					{Name: "emailAddresses", Type: tools.TypeArray, Description: "Email addresses"},
					{Name: "businessPhones", Type: tools.TypeArray, Description: "Business phone numbers"},
					{Name: "mobilePhone", Type: tools.TypeString, Description: "Mobile phone number"},
					{Name: "companyName", Type: tools.TypeString, Description: "Company"},
					{Name: "jobTitle", Type: tools.TypeString, Description: "Job title"},
				},
				Handler: c.create,
			},
		},
	}
}

func (c *contactsModule) list(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", 25)), "$select", contactSelect, "$orderby", "displayName")
	if p := args.String("startsWith"); p != "" {
		q.Set("$filter", "startswith(displayName,'"+escapeOData(p)+"')")
	}
	var out collection[contact]
	if err := c.client.Get(ctx, args.AccessToken(), "/me/contacts", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func (c *contactsModule) get(ctx context.Context, args tools.Args) (any, error) {
	var out contact
	if err := c.client.Get(ctx, args.AccessToken(), "/me/contacts/"+seg(args.String("id")), query("$select", contactSelect), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *contactsModule) create(ctx context.Context, args tools.Args) (any, error) {
	in := contact{
		GivenName:      args.String("givenName"),
		Surname:        args.String("surname"),
		BusinessPhones: args.Strings("businessPhones"),
		MobilePhone:    args.String("mobilePhone"),
		CompanyName:    args.String("companyName"),
		JobTitle:       args.String("jobTitle"),
	}
	for _, r := range recipients(args.Strings("emailAddresses")) {
		in.EmailAddresses = append(in.EmailAddresses, r.EmailAddress)
	}
	var created contact
	if err := c.client.Send(ctx, args.AccessToken(), http.MethodPost, "/me/contacts", in, &created); err != nil {
		return nil, err
	}
	return created, nil
}
