package apierrors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Body is the wire shape of every error response.
type Body struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Details          any    `json:"details,omitempty"`
	RetryAfter       int    `json:"retryAfter,omitempty"`
}

// BodyFor renders the wire body for err. Internal causes are never exposed.
func BodyFor(err error) Body {
	e := As(err)
	return Body{
		Error:            e.Code,
		ErrorDescription: e.Description,
		Details:          e.Details,
		RetryAfter:       e.RetryAfter,
	}
}

// WriteError writes err as a JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	e := As(err)
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	WriteJSON(w, e.HTTPStatus(), BodyFor(e))
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
