package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

type group struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Mail        string `json:"mail,omitempty"`
}

type member struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
}

type groupsModule struct {
	client *graph.Client
}

// Groups exposes group membership tools.
func Groups(client *graph.Client) tools.Module {
	g := &groupsModule{client: client}
	return tools.Module{
		Name: "groups",
		Methods: []*tools.Method{
			{
				Name:        "list",
				Description: "List the groups the user belongs to",
				HTTPMethod:  http.MethodGet,
				Path:        "/groups",
				Params:      []tools.Param{topParam(25)},
				Handler:     g.list,
			},
			{
				Name:        "listMembers",
				Description: "List the members of a group",
				HTTPMethod:  http.MethodGet,
				Path:        "/groups/{id}/members",
				Params: []tools.Param{
					idParam("id", "Group id"),
					topParam(25),
				},
				Handler: g.listMembers,
			},
		},
	}
}

func (g *groupsModule) list(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", 25)), "$select", "id,displayName,description,mail")
	var out collection[group]
	if err := g.client.Get(ctx, args.AccessToken(), "/me/memberOf/microsoft.graph.group", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func (g *groupsModule) listMembers(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", 25)), "$select", "id,displayName,mail,userPrincipalName,jobTitle")
	var out collection[member]
	if err := g.client.Get(ctx, args.AccessToken(), "/groups/"+seg(args.String("id"))+"/members", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}
