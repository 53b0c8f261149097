package modules

import (
	"net/url"
	"strconv"
	"strings"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

// All returns every module backed by client.
func All(client *graph.Client) []tools.Module {
	return []tools.Module{
		Mail(client),
		Calendar(client),
		Files(client),
		People(client),
		Search(client),
		Teams(client),
		Todo(client),
		Contacts(client),
		Groups(client),
	}
}

const (
	defaultTop = 10
	maxTop     = 50
)

func topParam(def int) tools.Param {
	return tools.Param{
		Name:        "top",
		Type:        tools.TypeInteger,
		Description: "Maximum number of items to return",
		Default:     def,
		Min:         1,
		Max:         maxTop,
	}
}

func idParam(name, desc string) tools.Param {
	return tools.Param{Name: name, Type: tools.TypeString, Description: desc, Required: true}
}

// seg escapes one path segment.
func seg(s string) string { return url.PathEscape(s) }

func query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	return q
}

func itoa(n int) string { return strconv.Itoa(n) }

// quoteSearch renders a $search value; embedded quotes are dropped.
func quoteSearch(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}

// collection is the upstream list envelope.
type collection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink,omitempty"`
}

// listResult is returned by list tools.
type listResult[T any] struct {
	Items   []T  `json:"items"`
	Count   int  `json:"count"`
	HasMore bool `json:"hasMore"`
}

func toList[T any](c collection[T]) listResult[T] {
	items := c.Value
	if items == nil {
		items = []T{}
	}
	return listResult[T]{Items: items, Count: len(items), HasMore: c.NextLink != ""}
}

// emailAddress is the upstream recipient shape.
type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
		}
	}
	return out
}

func addresses(rs []recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type dateTimeTZ struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// success is returned by tools whose upstream call has no body.
type success struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// escapeOData doubles single quotes inside an OData string literal.
func escapeOData(s string) string { return strings.ReplaceAll(s, "'", "''") }
