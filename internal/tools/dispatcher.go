package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"m365gate/internal/apierrors"
	"m365gate/internal/graph"
	"m365gate/internal/identity"
	"m365gate/internal/metrics"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
)

// TokenSource returns the upstream bearer for a canonical user id.
type TokenSource interface {
	GetUpstreamToken(ctx context.Context, canonicalUserID string) (string, error)
}

// Checker validates upstream tokens offline.
type Checker interface {
	QuickValidate(token string) upstream.Result
}

// Transports label tool calls in metrics and logs.
const (
	TransportREST    = "rest"
	TransportJSONRPC = "jsonrpc"
)

// Dispatcher runs tool calls.
type Dispatcher struct {
	registry *Registry
	tokens   TokenSource
	checker  Checker
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. checker enables the fallback to the
// caller's own upstream bearer when no stored record exists; it may be nil.
func NewDispatcher(registry *Registry, tokens TokenSource, checker Checker, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: registry, tokens: tokens, checker: checker, metrics: m}
}

// Registry returns the registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Call is one tool invocation.
type Call struct {
	Name      string
	Args      Args
	Identity  *identity.Identity
	Transport string
}

// Result is a normalized handler result.
type Result struct {
	Ref   Ref
	Value any
	// Text is Value as a string: strings unchanged, anything else JSON-encoded.
	Text string
}

// Call resolves, validates and runs a tool. Errors are *apierrors.Error.
func (d *Dispatcher) Call(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()
	method, ref, err := d.registry.Resolve(call.Name)
	if err != nil {
		d.observe(call, "unknown", start)
		return nil, resolutionError(err)
	}

	args, err := ValidateArgs(call.Name, method.Params, call.Args)
	if err != nil {
		d.observe(call, "invalid", start)
		return nil, toAPIError(err)
	}

	token, err := d.upstreamToken(ctx, call.Identity)
	if err != nil {
		d.observe(call, "unauthenticated", start)
		return nil, err
	}
	args[ArgAccessToken] = token

	value, err := method.Handler(ctx, args)
	if err != nil {
		apiErr := toAPIError(err)
		d.observe(call, "error", start)
		logging.Warn("Dispatcher", "Tool %s failed: %s", ref, apiErr.Code)
		return nil, apiErr
	}

	text, err := normalize(value)
	if err != nil {
		d.observe(call, "error", start)
		return nil, apierrors.Internal(err)
	}
	d.observe(call, "success", start)
	logging.Debug("Dispatcher", "Tool %s completed in %s", ref, time.Since(start).Round(time.Millisecond))
	return &Result{Ref: ref, Value: value, Text: text}, nil
}

func (d *Dispatcher) observe(call Call, outcome string, start time.Time) {
	name := call.Name
	if _, ok := d.registry.Tool(name); !ok {
		if _, ref, err := d.registry.Resolve(name); err == nil {
			name = ref.String()
		} else {
			name = "unknown"
		}
	}
	d.metrics.ToolCall(name, call.Transport, outcome, time.Since(start))
}

// upstreamToken never returns an empty token without an error.
func (d *Dispatcher) upstreamToken(ctx context.Context, id *identity.Identity) (string, error) {
	if id == nil || id.CanonicalUserID == "" {
		return "", apierrors.Unauthenticated()
	}
	token, err := d.tokens.GetUpstreamToken(ctx, id.CanonicalUserID)
	if err == nil && token != "" {
		return token, nil
	}
	if (err == nil || errors.Is(err, tokenprovider.ErrNoValidToken)) && id.UpstreamToken != "" && d.checker != nil {
		if res := d.checker.QuickValidate(id.UpstreamToken); res.Valid {
			logging.Debug("Dispatcher", "Using the caller's presented upstream token")
			return upstream.StripBearer(id.UpstreamToken), nil
		}
	}
	if err != nil {
		return "", err
	}
	return "", apierrors.Authentication(apierrors.CodeNoValidToken, "No valid upstream token is available; sign in again")
}

// Scopes returns the scopes of the upstream token the caller's tool calls
// would use. A caller without a usable token has no scopes.
func (d *Dispatcher) Scopes(ctx context.Context, id *identity.Identity) ([]string, error) {
	token, err := d.upstreamToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.checker == nil {
		return nil, apierrors.Internal(errors.New("no upstream token checker configured"))
	}
	res := d.checker.QuickValidate(token)
	if !res.Valid || res.Metadata == nil {
		return nil, apierrors.Authentication(apierrors.CodeInvalidToken, "The upstream token is not valid").WithCause(res.Err())
	}
	return upstream.NormalizeScopes(res.Metadata.Scopes), nil
}

func normalize(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case json.RawMessage:
		return string(val), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(data), nil
}

func resolutionError(err error) *apierrors.Error {
	if errors.Is(err, ErrMethodNotFound) {
		return apierrors.Validation(apierrors.CodeMethodNotFound, err.Error()).WithCause(err)
	}
	return apierrors.Validation(apierrors.CodeUnknownTool, err.Error()).WithCause(err)
}

// toAPIError classifies handler and validation errors.
func toAPIError(err error) *apierrors.Error {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return apierrors.Validation(apierrors.CodeInvalidRequest, "Invalid tool arguments").
			WithDetails(argErr.Details).WithCause(err)
	}

	var ge *graph.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Timeout:
			return apierrors.Upstream(apierrors.CodeUpstreamTimeout, "The upstream API did not answer in time", err)
		case ge.Status == http.StatusNotFound:
			return apierrors.NotFound("The requested item was not found").WithCause(err)
		case ge.Status == http.StatusUnauthorized:
			return apierrors.Authentication(apierrors.CodeReauthRequired,
				"The upstream API rejected the stored token; sign in again").WithCause(err)
		case ge.Status == http.StatusForbidden:
			return apierrors.Authorization(apierrors.CodeInsufficientScope,
				"The upstream token lacks the permission for this operation").WithCause(err)
		case ge.Status == http.StatusBadRequest:
			desc := "The upstream API rejected the request"
			if ge.Message != "" {
				desc += ": " + ge.Message
			}
			return apierrors.Validation(apierrors.CodeInvalidRequest, desc).WithCause(err)
		default:
			return apierrors.Upstream(apierrors.CodeUpstreamError, "The upstream API request failed", err)
		}
	}

	return apierrors.As(err)
}
