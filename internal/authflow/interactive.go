package authflow

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"m365gate/internal/apierrors"
	"m365gate/internal/session"
	"m365gate/internal/tokenprovider"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
	"m365gate/pkg/oauth"
)

// Login starts the authorization-code flow: it stores a fresh PKCE verifier
// in the caller's session (and in the state store as a fallback) and
// redirects to the upstream authority.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	sess, err := s.cfg.Sessions.GetOrCreate(w, r)
	if err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}
	state, err := oauth.GenerateState()
	if err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}
	returnTo := safeReturnTo(r.URL.Query().Get("return_to"))

	s.cfg.Sessions.Update(sess.ID, func(sess *session.Session) {
		sess.CodeVerifier = pkce.CodeVerifier
		sess.State = state
		sess.ReturnTo = returnTo
	})
	s.cfg.States.Put(state, pkce.CodeVerifier, sess.ID)

	authURL := s.cfg.OAuth2.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pkce.CodeVerifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	logging.Debug("AuthFlow", "Redirecting session %s to upstream authority", logging.TruncateSessionID(sess.ID))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// safeReturnTo only allows local absolute paths.
func safeReturnTo(v string) string {
	if v == "" || !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") || strings.Contains(v, "\\") {
		return ""
	}
	return v
}

// Callback completes the authorization-code flow.
func (s *Service) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.cfg.Metrics.AuthFlow("interactive", "failure")
		logging.Audit(logging.AuditEvent{Action: "login", Outcome: "failure", Reason: e, RemoteAddr: r.RemoteAddr})
		apierrors.WriteError(w, apierrors.Authentication(apierrors.CodeAuthFailed, "Upstream authorization failed: "+q.Get("error_description")))
		return
	}
	code := q.Get("code")
	if code == "" {
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "Missing authorization code"))
		return
	}
	state := q.Get("state")

	verifier, sessionID, returnTo := s.lookupVerifier(r, state)
	if verifier == "" {
		s.cfg.Metrics.AuthFlow("interactive", "failure")
		logging.Warn("AuthFlow", "No PKCE verifier for callback")
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeNoCodeVerifier,
			"No code verifier found for this login; start again at /auth/login"))
		return
	}

	tok, err := s.cfg.OAuth2.Exchange(s.withHTTPClient(r.Context()), code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.cfg.Metrics.AuthFlow("interactive", "failure")
		logging.Error("AuthFlow", err, "Authorization code exchange failed")
		apierrors.WriteError(w, apierrors.Authentication(apierrors.CodeExchangeFailed,
			"Failed to exchange the authorization code").WithCause(err))
		return
	}
	upTok := oauth.FromOAuth2Token(tok)

	user := s.accountFromToken(upTok)
	canonical := s.canonical(user.Email)
	if canonical == "" {
		s.cfg.Metrics.AuthFlow("interactive", "failure")
		apierrors.WriteError(w, apierrors.Authentication(apierrors.CodeInvalidUserInfo,
			"The upstream account has no username"))
		return
	}

	rec := tokenprovider.Record{
		UpstreamToken: upTok.AccessToken,
		RefreshToken:  upTok.RefreshToken,
		Source:        tokenprovider.SourceInteractive,
		Metadata: tokenprovider.Metadata{
			User:      user,
			ExpiresAt: upTok.ExpiresAt,
			Scopes:    upstream.NormalizeScopes(strings.Fields(upTok.Scope)),
		},
	}
	if res := s.cfg.Validator.QuickValidate(upTok.AccessToken); res.Valid {
		rec.Metadata.Scopes = res.Metadata.Scopes
		rec.Metadata.ExpiresAt = res.Metadata.ExpiresAt
	}
	if err := s.prov.WriteRecord(r.Context(), canonical, rec); err != nil {
		apierrors.WriteError(w, apierrors.Internal(err))
		return
	}

	if sessionID == "" {
		sess, err := s.cfg.Sessions.GetOrCreate(w, r)
		if err != nil {
			apierrors.WriteError(w, apierrors.Internal(err))
			return
		}
		sessionID = sess.ID
	}
	s.cfg.Sessions.SetUser(sessionID, session.User{
		CanonicalUserID: canonical,
		ID:              user.ID,
		Email:           strings.ToLower(user.Email),
		Name:            user.Name,
	})

	s.cfg.Metrics.AuthFlow("interactive", "success")
	logging.Audit(logging.AuditEvent{
		Action:     "login",
		Outcome:    "success",
		UserHash:   logging.HashIdentity(canonical),
		SessionID:  logging.TruncateSessionID(sessionID),
		RemoteAddr: r.RemoteAddr,
	})

	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// lookupVerifier finds the PKCE verifier for state: first in the cookie
// session, then in the state store. The state store entry is consumed either
// way.
func (s *Service) lookupVerifier(r *http.Request, state string) (verifier, sessionID, returnTo string) {
	var fallback *session.PKCEState
	if state != "" {
		fallback, _ = s.cfg.States.Take(state)
	}

	if sess, ok := s.cfg.Sessions.Get(r); ok && sess.CodeVerifier != "" && (state == "" || sess.State == state) {
		return sess.CodeVerifier, sess.ID, sess.ReturnTo
	}
	if fallback == nil {
		return "", "", ""
	}
	logging.Debug("AuthFlow", "Using state-store fallback for PKCE verifier")
	if sess, ok := s.cfg.Sessions.Lookup(fallback.SessionID); ok {
		return fallback.CodeVerifier, sess.ID, sess.ReturnTo
	}
	return fallback.CodeVerifier, "", ""
}

// accountFromToken derives the signed-in account from the id_token's
// preferred_username, falling back to the access token claims.
func (s *Service) accountFromToken(tok *oauth.Token) upstream.User {
	var user upstream.User
	if tok.IDToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tok.IDToken, claims); err == nil {
			user.Email, _ = claims["preferred_username"].(string)
			if user.Email == "" {
				user.Email, _ = claims["email"].(string)
			}
			user.Name, _ = claims["name"].(string)
			user.ID, _ = claims["oid"].(string)
		}
	}
	if d, err := upstream.Decode(tok.AccessToken); err == nil {
		md := upstream.ExtractMetadata(d, nil, s.now())
		if user.Email == "" {
			user.Email = md.User.Email
		}
		if user.Name == "" {
			user.Name = md.User.Name
		}
		if user.ID == "" {
			user.ID = md.User.ID
		}
	}
	return user
}

// loginURL returns the local login path with an optional return path.
func loginURL(prefix, returnTo string) string {
	if returnTo == "" {
		return prefix + "/login"
	}
	return prefix + "/login?return_to=" + url.QueryEscape(returnTo)
}
