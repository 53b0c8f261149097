package authflow

import (
	"context"
	"errors"
	"time"

	"m365gate/internal/apierrors"
	"m365gate/internal/gatewaytoken"
	"m365gate/internal/identity"
	"m365gate/internal/storage"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
)

// Exchange trades a valid upstream token for a long-lived gateway token.
// Nothing is written unless every validation stage passes.
func (s *Service) Exchange(ctx context.Context, upstreamToken string) (*TokenResponse, error) {
	fail := func(err *apierrors.Error, reason string) (*TokenResponse, error) {
		s.cfg.Metrics.AuthFlow("exchange", "failure")
		logging.Audit(logging.AuditEvent{Action: "token_exchange", Outcome: "failure", Reason: reason})
		return nil, err
	}

	if upstreamToken == "" {
		return fail(apierrors.Validation(apierrors.CodeInvalidRequest, "graph_access_token is required"), apierrors.CodeInvalidRequest)
	}
	quick := s.cfg.Validator.QuickValidate(upstreamToken)
	if !quick.Valid {
		return fail(apierrors.Authentication(apierrors.CodeInvalidToken, "The upstream token is invalid: "+quick.Message), quick.ErrorCode)
	}
	full := s.cfg.Validator.FullValidate(ctx, upstreamToken)
	if !full.Valid {
		return fail(apierrors.Authentication(apierrors.CodeTokenVerificationFailed,
			"The upstream API did not accept the token"), full.ErrorCode)
	}
	user := full.Metadata.User
	if user.Email == "" || user.ID == "" {
		return fail(apierrors.Authentication(apierrors.CodeInvalidUserInfo,
			"The upstream token does not identify a user"), apierrors.CodeInvalidUserInfo)
	}

	canonical := s.canonical(user.Email)
	rec := tokenprovider.Record{
		UpstreamToken: upstream.StripBearer(upstreamToken),
		Source:        tokenprovider.SourceExchange,
		Metadata: tokenprovider.Metadata{
			User:      user,
			ExpiresAt: full.Metadata.ExpiresAt,
			Scopes:    full.Metadata.Scopes,
		},
	}
	if err := s.prov.WriteRecord(ctx, canonical, rec); err != nil {
		s.cfg.Metrics.AuthFlow("exchange", "failure")
		return nil, apierrors.Internal(err)
	}

	deviceID := identity.DeriveDeviceID(user.Email)
	issued, err := s.cfg.Tokens.Issue(deviceID, canonical, map[string]any{
		"email":        user.Email,
		"name":         user.Name,
		"source":       ExchangeSourceTag,
		"exchanged_at": s.now().UTC().Format(time.RFC3339),
	}, gatewaytoken.ClassLong)
	if err != nil {
		s.cfg.Metrics.AuthFlow("exchange", "failure")
		return nil, apierrors.Internal(err)
	}

	s.cfg.Metrics.AuthFlow("exchange", "success")
	logging.Audit(logging.AuditEvent{Action: "token_exchange", Outcome: "success", UserHash: logging.HashIdentity(canonical)})

	resp := tokenResponse(issued)
	uv := userView(user)
	resp.User = &uv
	return &resp, nil
}

// ExternalResult is returned by the injection endpoints.
type ExternalResult struct {
	Success         bool      `json:"success"`
	CanonicalUserID string    `json:"canonicalUserId"`
	User            UserView  `json:"user"`
	Source          string    `json:"source"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Scopes          []string  `json:"scopes"`
}

// InjectExternal validates an externally produced upstream token and stores it
// as the active credential for the user it identifies.
func (s *Service) InjectExternal(ctx context.Context, upstreamToken string) (*ExternalResult, error) {
	if upstreamToken == "" {
		return nil, apierrors.Validation(apierrors.CodeInvalidRequest, "token is required")
	}
	res := s.cfg.Validator.FullValidate(ctx, upstreamToken)
	if !res.Valid {
		s.cfg.Metrics.AuthFlow("external", "failure")
		logging.Audit(logging.AuditEvent{Action: "external_token", Outcome: "failure", Reason: res.ErrorCode})
		return nil, apierrors.Authentication(apierrors.CodeInvalidToken, "The external token is invalid: "+res.Message)
	}
	canonical := s.canonical(res.Metadata.User.Email)
	if canonical == "" {
		s.cfg.Metrics.AuthFlow("external", "failure")
		return nil, apierrors.Authentication(apierrors.CodeInvalidUserInfo, "The external token does not identify a user")
	}

	rec := tokenprovider.Record{
		UpstreamToken: upstream.StripBearer(upstreamToken),
		Source:        tokenprovider.SourceExternal,
		Metadata: tokenprovider.Metadata{
			User:      res.Metadata.User,
			ExpiresAt: res.Metadata.ExpiresAt,
			Scopes:    res.Metadata.Scopes,
		},
	}
	if err := s.prov.WriteRecord(ctx, canonical, rec); err != nil {
		return nil, apierrors.Internal(err)
	}

	s.cfg.Metrics.AuthFlow("external", "success")
	logging.Audit(logging.AuditEvent{Action: "external_token", Outcome: "success", UserHash: logging.HashIdentity(canonical)})
	return &ExternalResult{
		Success:         true,
		CanonicalUserID: canonical,
		User:            userView(res.Metadata.User),
		Source:          string(tokenprovider.SourceExternal),
		ExpiresAt:       res.Metadata.ExpiresAt.UTC(),
		Scopes:          res.Metadata.Scopes,
	}, nil
}

// Status describes the caller's authentication state.
type Status struct {
	Authenticated bool       `json:"authenticated"`
	User          *UserView  `json:"user,omitempty"`
	Source        string     `json:"source,omitempty"`
	IdentitySrc   string     `json:"identitySource,omitempty"`
	DeviceID      string     `json:"deviceId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Scopes        []string   `json:"scopes,omitempty"`
	HasRefresh    bool       `json:"hasRefreshToken,omitempty"`
}

// StatusFor reports on id, which may be nil.
func (s *Service) StatusFor(ctx context.Context, id *identity.Identity) Status {
	if id == nil {
		return Status{}
	}
	st := Status{
		Authenticated: true,
		User:          &UserView{Email: id.Email, Name: id.Name},
		IdentitySrc:   string(id.Source),
		DeviceID:      id.DeviceID,
	}
	rec, err := s.prov.ReadRecord(ctx, id.CanonicalUserID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Warn("AuthFlow", "Failed to read token record for status: %v", err)
		}
		return st
	}
	st.Source = string(rec.Source)
	st.HasRefresh = rec.RefreshToken != ""
	if !rec.Metadata.ExpiresAt.IsZero() {
		exp := rec.Metadata.ExpiresAt.UTC()
		st.ExpiresAt = &exp
	}
	st.Scopes = rec.Metadata.Scopes
	if rec.Metadata.User.Email != "" {
		uv := userView(rec.Metadata.User)
		st.User = &uv
	}
	return st
}

// Logout removes the caller's token record, user info and sessions.
func (s *Service) Logout(ctx context.Context, id *identity.Identity) error {
	if err := s.prov.Clear(ctx, id.CanonicalUserID); err != nil {
		return apierrors.Internal(err)
	}
	n := s.cfg.Sessions.DeleteUser(id.CanonicalUserID)
	logging.Audit(logging.AuditEvent{
		Action:    "logout",
		Outcome:   "success",
		UserHash:  logging.HashIdentity(id.CanonicalUserID),
		SessionID: logging.TruncateSessionID(id.SessionID),
	})
	logging.Debug("AuthFlow", "Logout removed %d sessions", n)
	return nil
}

// GenerateMCPToken mints a long-lived gateway token for an authenticated
// caller, with a device id derived from the email.
func (s *Service) GenerateMCPToken(id *identity.Identity) (*TokenResponse, error) {
	email := id.Email
	if email == "" {
		email = identity.EmailFromCanonical(id.CanonicalUserID)
	}
	issued, err := s.cfg.Tokens.Issue(identity.DeriveDeviceID(email), id.CanonicalUserID, map[string]any{
		"email":  email,
		"name":   id.Name,
		"source": "generate-mcp-token",
	}, gatewaytoken.ClassLong)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	logging.Audit(logging.AuditEvent{Action: "generate_mcp_token", Outcome: "success", UserHash: logging.HashIdentity(id.CanonicalUserID)})
	resp := tokenResponse(issued)
	return &resp, nil
}
