package modules

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

type recorded struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// jsonBody decodes the recorded request body.
func (r recorded) jsonBody(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.Body, &m))
	return m
}

// recorder is a fake upstream API. Responses are looked up by path; anything
// else answers 200 with {}.
type recorder struct {
	mu        sync.Mutex
	requests  []recorded
	responses map[string]string
	raw       map[string][]byte
}

func newRecorder(t *testing.T) (*recorder, *graph.Client) {
	rec := &recorder{responses: map[string]string{}, raw: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, recorded{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.Query(),
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
		})
		resp, ok := rec.responses[r.URL.Path]
		raw, isRaw := rec.raw[r.URL.Path]
		rec.mu.Unlock()

		if isRaw {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write(raw)
			return
		}
		if !ok {
			resp = "{}"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return rec, graph.New(graph.Config{BaseURL: srv.URL})
}

func (r *recorder) last(t *testing.T) recorded {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

// call validates args the way the dispatcher does and runs the method.
func call(t *testing.T, m tools.Module, name string, args tools.Args) (any, error) {
	t.Helper()
	for _, method := range m.Methods {
		if method.Name != name {
			continue
		}
		valid, err := tools.ValidateArgs(name, method.Params, args)
		if err != nil {
			return nil, err
		}
		valid[tools.ArgAccessToken] = "token"
		return method.Handler(context.Background(), valid)
	}
	t.Fatalf("module %s has no method %s", m.Name, name)
	return nil, nil
}

func TestMail_ListMessages(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/me/mailFolders/Archive/messages"] = `{
		"value":[{"id":"m1","subject":"Hello","from":{"emailAddress":{"address":"bob@example.com"}},
		          "toRecipients":[{"emailAddress":{"address":"ann@example.com"}}],"flag":{"flagStatus":"flagged"}}],
		"@odata.nextLink":"https://next"}`

	out, err := call(t, Mail(client), "listMessages", tools.Args{"folder": "Archive", "unreadOnly": true, "top": 3})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "3", req.Query.Get("$top"))
	assert.Equal(t, "isRead eq false", req.Query.Get("$filter"))
	assert.Equal(t, "receivedDateTime desc", req.Query.Get("$orderby"))

	list := out.(listResult[MessageSummary])
	assert.Equal(t, 1, list.Count)
	assert.True(t, list.HasMore)
	assert.Equal(t, "bob@example.com", list.Items[0].From)
	assert.Equal(t, []string{"ann@example.com"}, list.Items[0].To)
	assert.Equal(t, "flagged", list.Items[0].FlagStatus)
}

func TestMail_Send(t *testing.T) {
	rec, client := newRecorder(t)

	out, err := call(t, Mail(client), "send", tools.Args{
		"to":      []any{"ann@example.com", " bob@example.com "},
		"subject": "Status",
		"body":    "All good",
		"cc":      "carol@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, success{Success: true, Message: "Email sent"}, out)

	req := rec.last(t)
	assert.Equal(t, "/me/sendMail", req.Path)
	body := req.jsonBody(t)
	msg := body["message"].(map[string]any)
	assert.Equal(t, "Status", msg["subject"])
	assert.Equal(t, "normal", msg["importance"])
	assert.Len(t, msg["toRecipients"], 2)
	assert.Len(t, msg["ccRecipients"], 1)
	assert.NotContains(t, msg, "bccRecipients")
	assert.Equal(t, true, body["saveToSentItems"])
}

func TestMail_SendRejectsBadAddress(t *testing.T) {
	rec, client := newRecorder(t)

	_, err := call(t, Mail(client), "send", tools.Args{"to": "nobody", "subject": "s", "body": "b"})
	var argErr *tools.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "to", argErr.Details[0].Field)
	assert.Empty(t, rec.requests)
}

func TestMail_SearchQuotesTerms(t *testing.T) {
	rec, client := newRecorder(t)

	_, err := call(t, Mail(client), "search", tools.Args{"query": `budget "Q3"`})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, "/me/messages", req.Path)
	assert.Equal(t, `"budget Q3"`, req.Query.Get("$search"))
}

func TestMail_AttachmentLifecycle(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/me/messages/m1/attachments"] = `{"id":"att1","name":"a.txt","size":3}`

	_, err := call(t, Mail(client), "addAttachment", tools.Args{"id": "m1", "name": "a.txt", "contentBytes": "not base64!"})
	require.Error(t, err)

	out, err := call(t, Mail(client), "addAttachment", tools.Args{
		"id": "m1", "name": "a.txt", "contentBytes": base64.StdEncoding.EncodeToString([]byte("abc")),
	})
	require.NoError(t, err)
	assert.Equal(t, "att1", out.(attachment).ID)
	assert.Equal(t, "#microsoft.graph.fileAttachment", rec.last(t).jsonBody(t)["@odata.type"])

	_, err = call(t, Mail(client), "removeAttachment", tools.Args{"id": "m1", "attachmentId": "att1"})
	require.NoError(t, err)
	req := rec.last(t)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/me/messages/m1/attachments/att1", req.Path)
}

func TestMail_MarkRead(t *testing.T) {
	rec, client := newRecorder(t)

	out, err := call(t, Mail(client), "markRead", tools.Args{"id": "m1", "isRead": "false"})
	require.NoError(t, err)
	assert.Equal(t, "Marked as unread", out.(success).Message)

	req := rec.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, map[string]any{"isRead": false}, req.jsonBody(t))
}

func TestCalendar_ListEventsDefaultWindow(t *testing.T) {
	rec, client := newRecorder(t)
	c := &calendarModule{client: client, now: func() time.Time {
		return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	}}

	_, err := c.listEvents(context.Background(), tools.Args{tools.ArgAccessToken: "token"})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, "/me/calendarView", req.Path)
	assert.Equal(t, "2024-05-01T09:00:00Z", req.Query.Get("startDateTime"))
	assert.Equal(t, "2024-05-08T09:00:00Z", req.Query.Get("endDateTime"))

	_, err = c.listEvents(context.Background(), tools.Args{"startDateTime": "tomorrow"})
	require.Error(t, err)
}

func TestCalendar_UpdateAndCancel(t *testing.T) {
	rec, client := newRecorder(t)
	mod := Calendar(client)

	_, err := call(t, mod, "updateEvent", tools.Args{"id": "e1"})
	require.Error(t, err, "an update without fields is rejected")
	assert.Empty(t, rec.requests)

	_, err = call(t, mod, "updateEvent", tools.Args{"id": "e1", "subject": "Moved", "start": "2024-05-02T10:00:00"})
	require.NoError(t, err)
	req := rec.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/me/events/e1", req.Path)
	body := req.jsonBody(t)
	assert.Equal(t, "Moved", body["subject"])
	assert.Equal(t, map[string]any{"dateTime": "2024-05-02T10:00:00", "timeZone": "UTC"}, body["start"])

	out, err := call(t, mod, "cancelEvent", tools.Args{"id": "e1", "comment": "sorry"})
	require.NoError(t, err)
	assert.True(t, out.(success).Success)
	assert.Equal(t, "/me/events/e1/cancel", rec.last(t).Path)
}

func TestFiles_Upload(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/me/drive/root:/Documents/my notes.txt:/content"] = `{"id":"f1","name":"my notes.txt","size":5,"file":{"mimeType":"text/plain"}}`

	out, err := call(t, Files(client), "upload", tools.Args{
		"path":     "/Documents/my notes.txt",
		"content":  base64.StdEncoding.EncodeToString([]byte("hello")),
		"encoding": "base64",
	})
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "hello", string(req.Body))
	assert.Equal(t, "application/octet-stream", req.ContentType)
	assert.Equal(t, "rename", req.Query.Get("@microsoft.graph.conflictBehavior"))

	info := out.(FileInfo)
	assert.Equal(t, "f1", info.ID)
	assert.Equal(t, "file", info.Type)
	assert.Equal(t, "text/plain", info.MimeType)
}

func TestFiles_UploadTooLarge(t *testing.T) {
	rec, client := newRecorder(t)

	big := make([]byte, 4<<20+1)
	_, err := call(t, Files(client), "upload", tools.Args{"path": "big.bin", "content": string(big)})
	require.Error(t, err)
	assert.Empty(t, rec.requests)
}

func TestFiles_Download(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/me/drive/items/f1"] = `{"id":"f1","name":"a.txt","size":3,"file":{"mimeType":"text/plain"}}`
	rec.raw["/me/drive/items/f1/content"] = []byte("abc")
	rec.responses["/me/drive/items/big"] = `{"id":"big","name":"big.iso","size":20000000,"@microsoft.graph.downloadUrl":"https://dl/big"}`
	rec.responses["/me/drive/items/dir"] = `{"id":"dir","name":"Docs","folder":{"childCount":2}}`

	out, err := call(t, Files(client), "download", tools.Args{"id": "f1"})
	require.NoError(t, err)
	dl := out.(Download)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("abc")), dl.ContentBytes)
	assert.False(t, dl.Truncated)

	out, err = call(t, Files(client), "download", tools.Args{"id": "big"})
	require.NoError(t, err)
	dl = out.(Download)
	assert.True(t, dl.Truncated)
	assert.Equal(t, "https://dl/big", dl.DownloadURL)
	assert.Empty(t, dl.ContentBytes)

	_, err = call(t, Files(client), "download", tools.Args{"id": "dir"})
	require.Error(t, err)
}

func TestTeams_SendChatMessage(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/chats/19:abc/messages"] = `{"id":"msg1","messageType":"message"}`

	out, err := call(t, Teams(client), "sendChatMessage", tools.Args{"chatId": "19:abc", "content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "msg1", out.(chatMessage).ID)

	body := rec.last(t).jsonBody(t)
	assert.Equal(t, map[string]any{"contentType": "text", "content": "hi"}, body["body"])
}

func TestTodo_ListTasksWithStatus(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/me/todo/lists/L1/tasks"] = `{"value":[{"id":"t1","title":"Ship","status":"notStarted"}]}`

	out, err := call(t, Todo(client), "listTasks", tools.Args{"listId": "L1", "status": "notStarted"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(listResult[task]).Count)
	assert.Equal(t, "status eq 'notStarted'", rec.last(t).Query.Get("$filter"))

	_, err = call(t, Todo(client), "listTasks", tools.Args{"listId": "L1", "status": "whenever"})
	require.Error(t, err)
}

func TestTodo_UpdateTask(t *testing.T) {
	rec, client := newRecorder(t)

	_, err := call(t, Todo(client), "updateTask", tools.Args{"listId": "L1", "taskId": "t1"})
	require.Error(t, err)

	_, err = call(t, Todo(client), "updateTask", tools.Args{"listId": "L1", "taskId": "t1", "status": "completed"})
	require.NoError(t, err)
	req := rec.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/me/todo/lists/L1/tasks/t1", req.Path)
	assert.Equal(t, map[string]any{"status": "completed"}, req.jsonBody(t))
}

func TestContacts_ListEscapesFilter(t *testing.T) {
	rec, client := newRecorder(t)

	_, err := call(t, Contacts(client), "list", tools.Args{"startsWith": "O'Brien"})
	require.NoError(t, err)
	assert.Equal(t, "startswith(displayName,'O''Brien')", rec.last(t).Query.Get("$filter"))
}

func TestContacts_Create(t *testing.T) {
	rec, client := newRecorder(t)

	_, err := call(t, Contacts(client), "create", tools.Args{"surname": "Smith"})
	require.Error(t, err, "givenName is required")

	_, err = call(t, Contacts(client), "create", tools.Args{"givenName": "Ann", "emailAddresses": "ann@example.com"})
	require.NoError(t, err)
	body := rec.last(t).jsonBody(t)
	assert.Equal(t, "Ann", body["givenName"])
	assert.Equal(t, []any{map[string]any{"address": "ann@example.com"}}, body["emailAddresses"])
}

func TestGroups_ListMembers(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/groups/g1/members"] = `{"value":[{"id":"u1","displayName":"Ann"},{"id":"u2","displayName":"Bob"}]}`

	out, err := call(t, Groups(client), "listMembers", tools.Args{"id": "g1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(listResult[member]).Count)

	_, err = call(t, Groups(client), "list", nil)
	require.NoError(t, err)
	assert.Equal(t, "/me/memberOf/microsoft.graph.group", rec.last(t).Path)
}

func TestSearch_Query(t *testing.T) {
	rec, client := newRecorder(t)
	rec.responses["/search/query"] = `{"value":[{"hitsContainers":[{"total":1,"moreResultsAvailable":false,
		"hits":[{"hitId":"h1","summary":"found","resource":{"@odata.type":"#microsoft.graph.message","subject":"Hi"}}]}]}]}`

	_, err := call(t, Search(client), "query", tools.Args{"query": "quarterly"})
	require.NoError(t, err)

	body := rec.last(t).jsonBody(t)
	requests := body["requests"].([]any)
	require.Len(t, requests, 1)
	first := requests[0].(map[string]any)
	assert.Equal(t, []any{"message", "driveItem"}, first["entityTypes"])
}

func TestToList_EmptyCollection(t *testing.T) {
	got := toList(collection[task]{})

	assert.NotNil(t, got.Items)
	assert.Zero(t, got.Count)
	assert.False(t, got.HasMore)
}
