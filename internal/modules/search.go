package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

var searchEntityTypes = []string{"message", "event", "driveItem", "listItem", "site", "chatMessage"}

// SearchHit is one result of the unified search.
type SearchHit struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Summary    string         `json:"summary"`
	Rank       int            `json:"rank"`
	Resource   map[string]any `json:"resource"`
}

type searchModule struct {
	client *graph.Client
}

// Search exposes the cross-service search tool.
func Search(client *graph.Client) tools.Module {
	s := &searchModule{client: client}
	return tools.Module{
		Name: "search",
		Methods: []*tools.Method{
			{
				Name:        "query",
				Description: "Search across mail, calendar, files and sites",
				HTTPMethod:  http.MethodPost,
				Path:        "/search",
				Params: []tools.Param{
					{Name: "query", Type: tools.TypeString, Description: "Keyword query", Required: true},
					{
						Name:        "entityTypes",
						Type:        tools.TypeArray,
						Description: "Kinds of items to search",
						Enum:        searchEntityTypes,
						Default:     []any{"message", "driveItem"},
					},
					{Name: "size", Type: tools.TypeInteger, Description: "Maximum hits", Default: 10, Min: 1, Max: 50},
				},
				Handler: s.query,
			},
		},
	}
}

func (s *searchModule) query(ctx context.Context, args tools.Args) (any, error) {
	types := args.Strings("entityTypes")
	body := map[string]any{
		"requests": []map[string]any{{
			"entityTypes": types,
			"query":       map[string]string{"queryString": args.String("query")},
			"size":        args.Int("size", 10),
		}},
	}
	var out struct {
		Value []struct {
			HitsContainers []struct {
				Total                int  `json:"total"`
				MoreResultsAvailable bool `json:"moreResultsAvailable"`
				Hits                 []struct {
					HitID    string         `json:"hitId"`
					Rank     int            `json:"rank"`
					Summary  string         `json:"summary"`
					Resource map[string]any `json:"resource"`
				} `json:"hits"`
			} `json:"hitsContainers"`
		} `json:"value"`
	}
	if err := s.client.Send(ctx, args.AccessToken(), http.MethodPost, "/search/query", body, &out); err != nil {
		return nil, err
	}

	hits := []SearchHit{}
	total := 0
	more := false
	for _, v := range out.Value {
		for _, c := range v.HitsContainers {
			total += c.Total
			more = more || c.MoreResultsAvailable
			for _, h := range c.Hits {
				kind, _ := h.Resource["@odata.type"].(string)
				hits = append(hits, SearchHit{
					ID:         h.HitID,
					EntityType: trimODataType(kind),
					Summary:    h.Summary,
					Rank:       h.Rank,
					Resource:   h.Resource,
				})
			}
		}
	}
	return map[string]any{"hits": hits, "total": total, "hasMore": more}, nil
}

func trimODataType(t string) string {
	const prefix = "#microsoft.graph."
	if len(t) > len(prefix) && t[:len(prefix)] == prefix {
		return t[len(prefix):]
	}
	return t
}
