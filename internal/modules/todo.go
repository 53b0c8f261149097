package modules

import (
	"context"
	"net/http"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

var (
	taskStatuses   = []string{"notStarted", "inProgress", "completed", "waitingOnOthers", "deferred"}
	taskImportance = []string{"low", "normal", "high"}
)

type taskList struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	IsOwner           bool   `json:"isOwner"`
	WellknownListName string `json:"wellknownListName"`
}

type task struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Status          string      `json:"status"`
	Importance      string      `json:"importance"`
	CreatedDateTime string      `json:"createdDateTime"`
	DueDateTime     *dateTimeTZ `json:"dueDateTime,omitempty"`
	Body            *itemBody   `json:"body,omitempty"`
}

type todoModule struct {
	client *graph.Client
}

// Todo exposes Microsoft To Do tools.
func Todo(client *graph.Client) tools.Module {
	t := &todoModule{client: client}
	return tools.Module{
		Name: "todo",
		Methods: []*tools.Method{
			{
				Name:        "listLists",
				Description: "List the user's task lists",
				HTTPMethod:  http.MethodGet,
				Path:        "/todo/lists",
				Handler:     t.listLists,
			},
			{
				Name:        "listTasks",
				Description: "List tasks in a task list",
				HTTPMethod:  http.MethodGet,
				Path:        "/todo/lists/{listId}/tasks",
				Params: []tools.Param{
					idParam("listId", "Task list id"),
					{Name: "status", Type: tools.TypeString, Description: "Only tasks with this status", Enum: taskStatuses},
					topParam(25),
				},
				Handler: t.listTasks,
			},
			{
				Name:        "createTask",
				Description: "Create a task",
				HTTPMethod:  http.MethodPost,
				Path:        "/todo/lists/{listId}/tasks",
				Created:     true,
				Params: []tools.Param{
					idParam("listId", "Task list id"),
					{Name: "title", Type: tools.TypeString, Description: "Task title", Required: true},
					{Name: "body", Type: tools.TypeString, Description: "Task notes"},
					{Name: "dueDateTime", Type: tools.TypeString, Description: "Due date-time, e.g. 2024-05-01T17:00:00"},
					{Name: "importance", Type: tools.TypeString, Description: "Task importance", Enum: taskImportance, Default: "normal"},
				},
				Handler: t.createTask,
			},
			{
				Name:        "updateTask",
				Description: "Update a task's title, status, importance or due date",
				HTTPMethod:  http.MethodPatch,
				Path:        "/todo/lists/{listId}/tasks/{taskId}",
				Params: []tools.Param{
					idParam("listId", "Task list id"),
					idParam("taskId", "Task id"),
					{Name: "title", Type: tools.TypeString, Description: "New title"},
					{Name: "status", Type: tools.TypeString, Description: "New status", Enum: taskStatuses},
					{Name: "importance", Type: tools.TypeString, Description: "New importance", Enum: taskImportance},
					{Name: "dueDateTime", Type: tools.TypeString, Description: "New due date-time"},
				},
				Handler: t.updateTask,
			},
		},
	}
}

func (t *todoModule) listLists(ctx context.Context, args tools.Args) (any, error) {
	var out collection[taskList]
	if err := t.client.Get(ctx, args.AccessToken(), "/me/todo/lists", nil, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func tasksPath(listID string) string {
	return "/me/todo/lists/" + seg(listID) + "/tasks"
}

func (t *todoModule) listTasks(ctx context.Context, args tools.Args) (any, error) {
	q := query("$top", itoa(args.Int("top", 25)))
	if s := args.String("status"); s != "" {
		q.Set("$filter", "status eq '"+s+"'")
	}
	var out collection[task]
	if err := t.client.Get(ctx, args.AccessToken(), tasksPath(args.String("listId")), q, &out); err != nil {
		return nil, err
	}
	return toList(out), nil
}

func (t *todoModule) createTask(ctx context.Context, args tools.Args) (any, error) {
	body := map[string]any{
		"title":      args.String("title"),
		"importance": args.String("importance"),
	}
	if b := args.String("body"); b != "" {
		body["body"] = itemBody{ContentType: "text", Content: b}
	}
	if d := args.String("dueDateTime"); d != "" {
		body["dueDateTime"] = dateTimeTZ{DateTime: d, TimeZone: "UTC"}
	}
	var created task
	if err := t.client.Send(ctx, args.AccessToken(), http.MethodPost, tasksPath(args.String("listId")), body, &created); err != nil {
		return nil, err
	}
	return created, nil
}

func (t *todoModule) updateTask(ctx context.Context, args tools.Args) (any, error) {
	body := map[string]any{}
	for _, field := range []string{"title", "status", "importance"} {
		if v := args.String(field); v != "" {
			body[field] = v
		}
	}
	if d := args.String("dueDateTime"); d != "" {
		body["dueDateTime"] = dateTimeTZ{DateTime: d, TimeZone: "UTC"}
	}
	if len(body) == 0 {
		return nil, tools.InvalidArgument("title", "at least one field to update is required")
	}
	var updated task
	path := tasksPath(args.String("listId")) + "/" + seg(args.String("taskId"))
	if err := t.client.Send(ctx, args.AccessToken(), http.MethodPatch, path, body, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}
