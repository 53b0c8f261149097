package modules

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

const messageSelect = "id,subject,from,toRecipients,receivedDateTime,isRead,bodyPreview,hasAttachments,importance,flag"

type message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             *recipient  `json:"from,omitempty"`
	ToRecipients     []recipient `json:"toRecipients,omitempty"`
	CcRecipients     []recipient `json:"ccRecipients,omitempty"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	IsRead           bool        `json:"isRead"`
	BodyPreview      string      `json:"bodyPreview"`
	Body             *itemBody   `json:"body,omitempty"`
	HasAttachments   bool        `json:"hasAttachments"`
	Importance       string      `json:"importance"`
	Flag             struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// MessageSummary is the list shape of a message.
type MessageSummary struct {
	ID             string   `json:"id"`
	Subject        string   `json:"subject"`
	From           string   `json:"from"`
	To             []string `json:"to,omitempty"`
	Received       string   `json:"receivedDateTime"`
	IsRead         bool     `json:"isRead"`
	Preview        string   `json:"preview"`
	HasAttachments bool     `json:"hasAttachments"`
	Importance     string   `json:"importance"`
	FlagStatus     string   `json:"flagStatus,omitempty"`
}

func summarize(m message) MessageSummary {
	s := MessageSummary{
		ID:             m.ID,
		Subject:        m.Subject,
		To:             addresses(m.ToRecipients),
		Received:       m.ReceivedDateTime,
		IsRead:         m.IsRead,
		Preview:        m.BodyPreview,
		HasAttachments: m.HasAttachments,
		Importance:     m.Importance,
		FlagStatus:     m.Flag.FlagStatus,
	}
	if m.From != nil {
		s.From = m.From.EmailAddress.Address
	}
	return s
}

func summarizeAll(c collection[message]) listResult[MessageSummary] {
	out := collection[MessageSummary]{NextLink: c.NextLink}
	for _, m := range c.Value {
		out.Value = append(out.Value, summarize(m))
	}
	return toList(out)
}

type mailModule struct {
	client *graph.Client
}

// Mail exposes mailbox tools.
func Mail(client *graph.Client) tools.Module {
	m := &mailModule{client: client}
	return tools.Module{
		Name: "mail",
		Methods: []*tools.Method{
			{
				Name:        "listMessages",
				Description: "List recent messages in a mail folder, newest first",
				HTTPMethod:  http.MethodGet,
				Path:        "/mail",
				Params: []tools.Param{
					topParam(defaultTop),
					{Name: "folder", Type: tools.TypeString, Description: "Mail folder name or id", Default: "inbox"},
					{Name: "unreadOnly", Type: tools.TypeBoolean, Description: "Only return unread messages", Default: false},
				},
				Handler: m.listMessages,
			},
			{
				Name:        "send",
				Description: "Send an email from the signed-in user's mailbox",
				HTTPMethod:  http.MethodPost,
				Path:        "/mail/send",
				Params: []tools.Param{
					{Name: "to", Type: tools.TypeArray, Description: "Recipient email addresses", Required: true},
					{Name: "subject", Type: tools.TypeString, Description: "Message subject", Required: true},
					{Name: "body", Type: tools.TypeString, Description: "Message body", Required: true},
					{Name: "cc", Type: tools.TypeArray, Description: "Cc recipient email addresses"},
					{Name: "bcc", Type: tools.TypeArray, Description: "Bcc recipient email addresses"},
					{Name: "contentType", Type: tools.TypeString, Description: "Body format", Enum: []string{"text", "html"}, Default: "text"},
					{Name: "importance", Type: tools.TypeString, Description: "Message importance", Enum: []string{"low", "normal", "high"}, Default: "normal"},
				},
				Handler: m.send,
			},
			{
				Name:        "search",
				Description: "Search messages by keyword",
				HTTPMethod:  http.MethodGet,
				Path:        "/mail/search",
				Params: []tools.Param{
					{Name: "query", Type: tools.TypeString, Description: "Search terms", Required: true},
					topParam(defaultTop),
				},
				Handler: m.search,
			},
			{
				Name:        "flag",
				Description: "Set the follow-up flag of a message",
				HTTPMethod:  http.MethodPost,
				Path:        "/mail/flag",
				Params: []tools.Param{
					idParam("id", "Message id"),
					{Name: "flagStatus", Type: tools.TypeString, Description: "Flag state", Enum: []string{"flagged", "complete", "notFlagged"}, Default: "flagged"},
				},
				Handler: m.flag,
			},
			{
				Name:        "markRead",
				Description: "Mark a message as read or unread",
				HTTPMethod:  http.MethodPatch,
				Path:        "/mail/{id}/read",
				Params: []tools.Param{
					idParam("id", "Message id"),
					{Name: "isRead", Type: tools.TypeBoolean, Description: "Read state to set", Default: true},
				},
				Handler: m.markRead,
			},
			{
				Name:        "getMessage",
				Description: "Get a message with its body and attachment list",
				HTTPMethod:  http.MethodGet,
				Path:        "/mail/{id}",
				Params:      []tools.Param{idParam("id", "Message id")},
				Handler:     m.getMessage,
			},
			{
				Name:        "addAttachment",
				Description: "Attach a file to a draft message",
				HTTPMethod:  http.MethodPost,
				Path:        "/mail/{id}/attachments",
				Created:     true,
				Params: []tools.Param{
					idParam("id", "Message id"),
					{Name: "name", Type: tools.TypeString, Description: "File name", Required: true},
					{Name: "contentBytes", Type: tools.TypeString, Description: "Base64 encoded file content", Required: true},
					{Name: "contentType", Type: tools.TypeString, Description: "MIME type", Default: "application/octet-stream"},
				},
				Handler: m.addAttachment,
			},
			{
				Name:        "removeAttachment",
				Description: "Remove an attachment from a message",
				HTTPMethod:  http.MethodDelete,
				Path:        "/mail/{id}/attachments/{attachmentId}",
				Params: []tools.Param{
					idParam("id", "Message id"),
					idParam("attachmentId", "Attachment id"),
				},
				Handler: m.removeAttachment,
			},
		},
	}
}

func (m *mailModule) listMessages(ctx context.Context, args tools.Args) (any, error) {
	q := query(
		"$top", itoa(args.Int("top", defaultTop)),
		"$select", messageSelect,
		"$orderby", "receivedDateTime desc",
	)
	if args.Bool("unreadOnly", false) {
		q.Set("$filter", "isRead eq false")
	}
	folder := args.String("folder")
	if folder == "" {
		folder = "inbox"
	}
	var out collection[message]
	if err := m.client.Get(ctx, args.AccessToken(), "/me/mailFolders/"+seg(folder)+"/messages", q, &out); err != nil {
		return nil, err
	}
	return summarizeAll(out), nil
}

func (m *mailModule) send(ctx context.Context, args tools.Args) (any, error) {
	to := recipients(args.Strings("to"))
	if len(to) == 0 {
		return nil, tools.InvalidArgument("to", "must contain at least one address")
	}
	for _, r := range to {
		if !strings.Contains(r.EmailAddress.Address, "@") {
			return nil, tools.InvalidArgument("to", "%q is not an email address", r.EmailAddress.Address)
		}
	}
	msg := map[string]any{
		"subject":      args.String("subject"),
		"body":         itemBody{ContentType: args.String("contentType"), Content: args.String("body")},
		"toRecipients": to,
		"importance":   args.String("importance"),
	}
	if cc := recipients(args.Strings("cc")); len(cc) > 0 {
		msg["ccRecipients"] = cc
	}
	if bcc := recipients(args.Strings("bcc")); len(bcc) > 0 {
		msg["bccRecipients"] = bcc
	}
	body := map[string]any{"message": msg, "saveToSentItems": true}
	if err := m.client.Send(ctx, args.AccessToken(), http.MethodPost, "/me/sendMail", body, nil); err != nil {
		return nil, err
	}
	return success{Success: true, Message: "Email sent"}, nil
}

func (m *mailModule) search(ctx context.Context, args tools.Args) (any, error) {
	q := query(
		"$search", quoteSearch(args.String("query")),
		"$top", itoa(args.Int("top", defaultTop)),
		"$select", messageSelect,
	)
	var out collection[message]
	if err := m.client.Get(ctx, args.AccessToken(), "/me/messages", q, &out); err != nil {
		return nil, err
	}
	return summarizeAll(out), nil
}

func (m *mailModule) flag(ctx context.Context, args tools.Args) (any, error) {
	body := map[string]any{"flag": map[string]string{"flagStatus": args.String("flagStatus")}}
	if err := m.client.Send(ctx, args.AccessToken(), http.MethodPatch, "/me/messages/"+seg(args.String("id")), body, nil); err != nil {
		return nil, err
	}
	return success{Success: true, ID: args.String("id"), Message: "Flag set to " + args.String("flagStatus")}, nil
}

func (m *mailModule) markRead(ctx context.Context, args tools.Args) (any, error) {
	isRead := args.Bool("isRead", true)
	body := map[string]bool{"isRead": isRead}
	if err := m.client.Send(ctx, args.AccessToken(), http.MethodPatch, "/me/messages/"+seg(args.String("id")), body, nil); err != nil {
		return nil, err
	}
	state := "read"
	if !isRead {
		state = "unread"
	}
	return success{Success: true, ID: args.String("id"), Message: "Marked as " + state}, nil
}

func (m *mailModule) getMessage(ctx context.Context, args tools.Args) (any, error) {
	q := query(
		"$select", messageSelect+",ccRecipients,body",
		"$expand", "attachments($select=id,name,contentType,size)",
	)
	var msg message
	if err := m.client.Get(ctx, args.AccessToken(), "/me/messages/"+seg(args.String("id")), q, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *mailModule) addAttachment(ctx context.Context, args tools.Args) (any, error) {
	content := args.String("contentBytes")
	if _, err := base64.StdEncoding.DecodeString(content); err != nil {
		return nil, tools.InvalidArgument("contentBytes", "must be base64 encoded")
	}
	body := map[string]string{
		"@odata.type":  "#microsoft.graph.fileAttachment",
		"name":         args.String("name"),
		"contentType":  args.String("contentType"),
		"contentBytes": content,
	}
	var created attachment
	path := "/me/messages/" + seg(args.String("id")) + "/attachments"
	if err := m.client.Send(ctx, args.AccessToken(), http.MethodPost, path, body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (m *mailModule) removeAttachment(ctx context.Context, args tools.Args) (any, error) {
	path := "/me/messages/" + seg(args.String("id")) + "/attachments/" + seg(args.String("attachmentId"))
	if _, err := m.client.Do(ctx, args.AccessToken(), graph.Request{Method: http.MethodDelete, Path: path}); err != nil {
		return nil, err
	}
	return success{Success: true, ID: args.String("attachmentId"), Message: "Attachment removed"}, nil
}
