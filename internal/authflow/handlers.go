package authflow

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"m365gate/internal/apierrors"
	"m365gate/internal/identity"
	"m365gate/internal/session"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Routes mounts the auth endpoints on r. require rejects anonymous callers,
// optional only attaches an identity when one resolves.
func (s *Service) Routes(r chi.Router, require, optional func(http.Handler) http.Handler) {
	r.With(optional).Get("/status", s.handleStatus)
	r.Get("/login", s.Login)
	r.Get("/callback", s.Callback)
	r.With(require).Post("/logout", s.handleLogout)

	r.Post("/device/register", s.handleDeviceRegister)
	r.With(optional).Get("/device", s.handleDeviceVerification)
	r.With(require).Post("/device/authorize", s.handleDeviceAuthorize)
	r.Post("/device/token", s.handleDeviceToken)
	r.Post("/device/refresh", s.handleDeviceRefresh)

	r.With(require).Post("/generate-mcp-token", s.handleGenerateMCPToken)
	r.Post("/graph-token-exchange", s.handleExchange)

	r.Post("/external-token/login", s.handleExternalLogin)
	r.Group(func(r chi.Router) {
		r.Use(require)
		r.Post("/external-token", s.handleExternalInject)
		r.Get("/external-token", s.handleExternalStatus)
		r.Delete("/external-token", s.handleExternalDelete)
		r.Post("/external-token/switch", s.handleExternalSwitch)
	})

	r.Get("/.well-known/oauth-protected-resource", s.ServeProtectedResourceMetadata)
}

// decodeBody reads a JSON or form-encoded body into a string map.
func decodeBody(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k := range r.PostForm {
			out[k] = r.PostForm.Get(k)
		}
		return out, nil
	}

	var raw map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return nil, err
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

func badBody(w http.ResponseWriter, err error) {
	apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "Request body must be a JSON object").WithCause(err))
}

func mustIdentity(r *http.Request) *identity.Identity {
	id, _ := identity.FromContext(r.Context())
	return id
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	apierrors.WriteJSON(w, http.StatusOK, s.StatusFor(r.Context(), id))
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Logout(r.Context(), mustIdentity(r)); err != nil {
		apierrors.WriteError(w, err)
		return
	}
	s.cfg.Sessions.Destroy(w, r)
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	resp, err := s.RegisterDevice(body["client_name"])
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

// handleDeviceVerification is the verification_uri. Anonymous browsers are
// sent through the interactive login and come back here.
func (s *Service) handleDeviceVerification(w http.ResponseWriter, r *http.Request) {
	userCode := r.URL.Query().Get("user_code")
	prefix := strings.TrimSuffix(r.URL.Path, "/device")
	id, ok := identity.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, loginURL(prefix, r.URL.RequestURI()), http.StatusFound)
		return
	}

	out := map[string]any{
		"user":               id.Email,
		"authorize_endpoint": prefix + "/device/authorize",
		"actions":            []string{"approve", "deny"},
	}
	if userCode != "" {
		req, found := s.cfg.Devices.Lookup(userCode)
		if !found {
			apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "Unknown or expired user code"))
			return
		}
		out["user_code"] = req.UserCode
		out["client_name"] = req.ClientName
		out["status"] = req.Status
		out["expires_at"] = req.ExpiresAt.UTC()
	}
	apierrors.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) handleDeviceAuthorize(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	approve := true
	switch body["action"] {
	case "", "approve":
	case "deny":
		approve = false
	default:
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, `action must be "approve" or "deny"`))
		return
	}

	req, err := s.AuthorizeDevice(r.Context(), mustIdentity(r), body["user_code"], approve)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    req.Status,
		"device_id": req.DeviceID,
	})
}

func (s *Service) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	resp, err := s.PollDevice(r.Context(), body["device_code"])
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

func (s *Service) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	resp, err := s.RefreshDevice(r.Context(), body["refresh_token"])
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

func (s *Service) handleGenerateMCPToken(w http.ResponseWriter, r *http.Request) {
	resp, err := s.GenerateMCPToken(mustIdentity(r))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

func (s *Service) handleExchange(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	token := body["graph_access_token"]
	if token == "" {
		token = bearer(r)
	}
	resp, err := s.Exchange(r.Context(), token)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	return upstream.StripBearer(h)
}

func externalTokenFrom(body map[string]string) string {
	for _, k := range []string{"token", "access_token", "graph_access_token"} {
		if v := body[k]; v != "" {
			return v
		}
	}
	return ""
}

func (s *Service) handleExternalLogin(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	res, err := s.InjectExternal(r.Context(), externalTokenFrom(body))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	sess, err := s.cfg.Sessions.GetOrCreate(w, r)
	if err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}
	s.cfg.Sessions.SetUser(sess.ID, session.User{
		CanonicalUserID: res.CanonicalUserID,
		ID:              res.User.ID,
		Email:           res.User.Email,
		Name:            res.User.Name,
	})
	apierrors.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) handleExternalInject(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	id := mustIdentity(r)
	res, err := s.InjectExternal(r.Context(), externalTokenFrom(body))
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	if res.CanonicalUserID != id.CanonicalUserID {
		logging.Warn("AuthFlow", "External token identifies a different user than the caller")
		if id.SessionID != "" {
			s.cfg.Sessions.SetUser(id.SessionID, session.User{
				CanonicalUserID: res.CanonicalUserID,
				ID:              res.User.ID,
				Email:           res.User.Email,
				Name:            res.User.Name,
			})
		}
	}
	apierrors.WriteJSON(w, http.StatusOK, res)
}

func (s *Service) handleExternalStatus(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	rec, err := s.prov.ReadRecord(r.Context(), id.CanonicalUserID)
	if err != nil {
		apierrors.WriteJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"active":    rec.Source == tokenprovider.SourceExternal,
		"source":    rec.Source,
		"expiresAt": rec.Metadata.ExpiresAt.UTC(),
		"scopes":    rec.Metadata.Scopes,
		"user":      userView(rec.Metadata.User),
	})
}

func (s *Service) handleExternalDelete(w http.ResponseWriter, r *http.Request) {
	id := mustIdentity(r)
	removed, err := s.prov.ClearExternal(r.Context(), id.CanonicalUserID)
	if err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}
	logging.Audit(logging.AuditEvent{Action: "external_token_delete", Outcome: "success", UserHash: logging.HashIdentity(id.CanonicalUserID)})
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

func (s *Service) handleExternalSwitch(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		badBody(w, err)
		return
	}
	to := tokenprovider.Source(body["source"])
	if to != tokenprovider.SourceExternal && to != tokenprovider.SourceInteractive {
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, `source must be "external" or "interactive"`))
		return
	}

	id := mustIdentity(r)
	rec, err := s.prov.SwitchSource(r.Context(), id.CanonicalUserID, to)
	switch {
	case errors.Is(err, tokenprovider.ErrNoInteractiveSession):
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeNoInteractiveSession,
			"No interactive session is stored; sign in at /auth/login first"))
		return
	case errors.Is(err, tokenprovider.ErrNoExternalToken):
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "No external token is stored"))
		return
	case err != nil:
		var ve *upstream.ValidationError
		if errors.As(err, &ve) {
			apierrors.WriteError(w, apierrors.Authentication(apierrors.CodeInvalidToken, "The stored external token is no longer valid"))
			return
		}
		apierrors.WriteError(w, err)
		return
	}

	logging.Audit(logging.AuditEvent{Action: "token_source_switch", Outcome: "success", UserHash: logging.HashIdentity(id.CanonicalUserID), Target: string(to)})
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"source":    rec.Source,
		"expiresAt": rec.Metadata.ExpiresAt.UTC(),
	})
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata.
func (s *Service) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	authServer := s.cfg.AuthorizationServer
	if authServer == "" {
		authServer = s.cfg.BaseURL
	}
	scopes := s.cfg.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"resource":                 s.cfg.BaseURL,
		"authorization_servers":    []string{authServer},
		"scopes_supported":         scopes,
		"bearer_methods_supported": []string{"header"},
		"resource_name":            "m365gate",
	})
}
