package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SendsBearerAndQuery(t *testing.T) {
	var gotAuth, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	resp, err := c.Do(context.Background(), "tok", Request{
		Method: http.MethodPost,
		Path:   "/me/messages",
		Query:  url.Values{"$top": {"5"}},
		Body:   map[string]string{"a": "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "%24top=5", gotQuery)
	assert.JSONEq(t, `{"a":"b"}`, gotBody)

	var out struct {
		Value []map[string]string `json:"value"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "1", out.Value[0]["id"])
}

func TestDo_RejectsEmptyToken(t *testing.T) {
	c := New(Config{BaseURL: "http://unused.test"})
	_, err := c.Do(context.Background(), "", Request{Path: "/me"})
	assert.Error(t, err)
}

func TestDo_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "ErrorItemNotFound", "message": "gone"},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Get(context.Background(), "tok", "/me/messages/x", nil, nil)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusNotFound, ge.Status)
	assert.Equal(t, "ErrorItemNotFound", ge.Code)
	assert.True(t, IsNotFound(err))
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	err := c.Get(context.Background(), "tok", "/me", nil, nil)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.True(t, ge.Timeout)
}

func TestDo_CallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Config{BaseURL: srv.URL})
	err := c.Get(ctx, "tok", "/me", nil, nil)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.False(t, ge.Timeout)
	assert.ErrorIs(t, err, context.Canceled)
}
