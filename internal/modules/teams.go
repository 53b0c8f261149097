package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

type chat struct {
	ID                  string `json:"id"`
	Topic               string `json:"topic"`
	ChatType            string `json:"chatType"`
	LastUpdatedDateTime string `json:"lastUpdatedDateTime"`
	WebURL              string `json:"webUrl,omitempty"`
	Members             []struct {
		DisplayName string `json:"displayName"`
		Email       string `json:"email,omitempty"`
	} `json:"members,omitempty"`
}

type chatMessage struct {
	ID              string    `json:"id"`
	CreatedDateTime string    `json:"createdDateTime"`
	MessageType     string    `json:"messageType"`
	Body            *itemBody `json:"body,omitempty"`
	From            *struct {
		User *struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"user,omitempty"`
	} `json:"from,omitempty"`
}

type team struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

type teamsModule struct {
	client *graph.Client
}

// Teams exposes chat and team tools.
func Teams(client *graph.Client) tools.Module {
	t := &teamsModule{client: client}
	return tools.Module{
		Name: "teams",
		Methods: []*tools.Method{
			{
				Name:        "listChats",
				Description: "List the user's chats, most recently updated first",
				HTTPMethod:  http.MethodGet,
				Path:        "/teams/chats",
				Params:      []tools.Param{topParam(20)},
				Handler:     t.listChats,
			},
			{
				Name:        "listChatMessages",
				Description: "List recent messages in a chat",
				HTTPMethod:  http.MethodGet,
				Path:        "/teams/chats/{chatId}/messages",
				Params: []tools.Param{
					idParam("chatId", "Chat id"),
					topParam(20),
				},
				Handler: t.listChatMessages,
			},
			{
				Name:        "sendChatMessage",
				Description: "Send a message to a chat",
				HTTPMethod:  http.MethodPost,
				Path:        "/teams/chats/{chatId}/messages",
				Created:     true,
				Params: []tools.Param{
					idParam("chatId", "Chat id"),
					{Name: "content", Type: tools.TypeString, Description: "Message text", Required: true},
					{Name: "contentType", Type: tools.TypeString, Description: "Body format", Enum: []string{"text", "html"}, Default: "text"},
				},
				Handler: t.sendChatMessage,
			},
			{
				Name:        "listJoinedTeams",
				Description: "List the teams the user is a member of",
				HTTPMethod:  http.MethodGet,
				Path:        "/teams",
				Handler:     t.listJoinedTeams,
			},
		},
	}
}

func (t *teamsModule) listChats(ctx context.Context, args tools.Args) (any, error) {
	q := query(
		"$top", itoa(args.Int("top", 20)),
		"$expand", "members",
		"$orderby", "lastMessagePreview/createdDateTime desc",
	)
	var out collection[chat]
	if err := t.client.Get(ctx, args.AccessToken(), "/me/chats", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func (t *teamsModule) listChatMessages(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", 20)))
	var out collection[chatMessage]
	if err := t.client.Get(ctx, args.AccessToken(), "/me/chats/"+seg(args.String("chatId"))+"/messages", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func (t *teamsModule) sendChatMessage(ctx context.Context, args tools.Args) (any, error) {
	body := map[string]any{"body": itemBody{ContentType: args.String("contentType"), Content: args.String("content")}}
	var created chatMessage
	if err := t.client.Send(ctx, args.AccessToken(), http.MethodPost, "/chats/"+seg(args.String("chatId"))+"/messages", body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (t *teamsModule) listJoinedTeams(ctx context.Context, args tools.Args) (any, error) {
	q := query("$select", "id,displayName,description")
	var out collection[team]
	if err := t.client.Get(ctx, args.AccessToken(), "/me/joinedTeams", q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}
