package authflow

import (
	"context"
	"errors"

	"m365gate/internal/apierrors"
	"m365gate/internal/gatewaytoken"
	"m365gate/internal/identity"
	"m365gate/internal/storage"
	"m365gate/pkg/logging"
	"m365gate/pkg/oauth"
)

// DeviceCodeResponse is returned by /device/register (RFC 8628 §3.2).
type DeviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// RegisterDevice starts a device authorization.
func (s *Service) RegisterDevice(clientName string) (*DeviceCodeResponse, error) {
	req, err := s.cfg.Devices.Register(clientName)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	return &DeviceCodeResponse{
		DeviceCode:              req.DeviceCode,
		UserCode:                req.UserCode,
		VerificationURI:         req.VerificationURI,
		VerificationURIComplete: req.VerificationURI + "?user_code=" + req.UserCode,
		ExpiresIn:               int64(req.ExpiresAt.Sub(req.CreatedAt).Seconds()),
		Interval:                int64(req.Interval.Seconds()),
	}, nil
}

// AuthorizeDevice binds the caller to a pending user code. The caller must
// already have a token record so the device can use it.
func (s *Service) AuthorizeDevice(ctx context.Context, id *identity.Identity, userCode string, approve bool) (*DeviceRequest, error) {
	if userCode == "" {
		return nil, apierrors.Validation(apierrors.CodeInvalidRequest, "user_code is required")
	}
	if approve {
		has, err := s.prov.HasRecord(ctx, id.CanonicalUserID)
		if err != nil {
			return nil, apierrors.Internal(err)
		}
		if !has {
			return nil, apierrors.Authentication(apierrors.CodeNoValidToken,
				"Sign in at /auth/login before approving a device")
		}
	}

	req, err := s.cfg.Devices.Authorize(ctx, userCode, id.CanonicalUserID, approve)
	if errors.Is(err, ErrUnknownUserCode) {
		return nil, apierrors.Validation(apierrors.CodeInvalidRequest, "Unknown or expired user code")
	}
	if err != nil {
		return nil, apierrors.Internal(err)
	}

	outcome := "success"
	if !approve {
		outcome = "denied"
	}
	logging.Audit(logging.AuditEvent{
		Action:   "device_authorize",
		Outcome:  outcome,
		UserHash: logging.HashIdentity(id.CanonicalUserID),
		Target:   req.DeviceID,
	})
	return req, nil
}

// deviceError maps device-grant sentinels to RFC 8628 wire errors.
func deviceError(err error) error {
	desc := map[error]string{
		ErrAuthorizationPending: "The user has not yet approved this device",
		ErrSlowDown:             "Polling too frequently; increase the interval by 5 seconds",
		ErrAccessDenied:         "The user denied the device",
		ErrExpiredToken:         "The device code has expired",
		ErrInvalidGrant:         "Unknown device code",
	}
	for sentinel, d := range desc {
		if errors.Is(err, sentinel) {
			return apierrors.Validation(sentinel.Error(), d)
		}
	}
	return apierrors.Internal(err)
}

// PollDevice answers a device-token poll.
func (s *Service) PollDevice(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	if deviceCode == "" {
		return nil, apierrors.Validation(oauth.DeviceErrInvalidGrant, "device_code is required")
	}
	req, err := s.cfg.Devices.Poll(deviceCode)
	if err != nil {
		if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrExpiredToken) {
			s.cfg.Metrics.AuthFlow("device", "failure")
		}
		return nil, deviceError(err)
	}

	has, err := s.prov.HasRecord(ctx, req.BoundUser)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if !has {
		s.cfg.Metrics.AuthFlow("device", "failure")
		return nil, apierrors.Validation(oauth.DeviceErrInvalidGrant, "The approving user no longer has upstream credentials")
	}

	resp, err := s.issueDeviceTokens(req.DeviceID, req.BoundUser)
	if err != nil {
		return nil, err
	}
	s.cfg.Metrics.AuthFlow("device", "success")
	logging.Audit(logging.AuditEvent{Action: "device_token", Outcome: "success", UserHash: logging.HashIdentity(req.BoundUser), Target: req.DeviceID})
	return resp, nil
}

func (s *Service) issueDeviceTokens(deviceID, canonical string) (*TokenResponse, error) {
	email := identity.EmailFromCanonical(canonical)
	access, err := s.cfg.Tokens.Issue(deviceID, canonical, map[string]any{
		"email":  email,
		"source": "device",
	}, gatewaytoken.ClassShort)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	refresh, err := s.cfg.Tokens.Issue(deviceID, canonical, map[string]any{
		gatewaytoken.MetadataTokenUse: gatewaytoken.TokenUseRefresh,
	}, gatewaytoken.ClassRefresh)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	resp := tokenResponse(access)
	resp.RefreshToken = refresh.Token
	return &resp, nil
}

// RefreshDevice exchanges a device refresh token for a new access token.
func (s *Service) RefreshDevice(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	invalid := func(desc string) error {
		s.cfg.Metrics.AuthFlow("device_refresh", "failure")
		return apierrors.Validation(oauth.DeviceErrInvalidGrant, desc)
	}
	if refreshToken == "" {
		return nil, invalid("refresh_token is required")
	}
	claims, err := s.cfg.Tokens.Verify(refreshToken)
	if err != nil {
		return nil, invalid("The refresh token is invalid or expired")
	}
	if !claims.IsRefresh() {
		return nil, invalid("The token is not a refresh token")
	}
	if _, err := s.cfg.Devices.Registration(ctx, claims.DeviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalid("The device registration was revoked")
		}
		return nil, apierrors.Internal(err)
	}
	has, err := s.prov.HasRecord(ctx, claims.UserID())
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	if !has {
		return nil, invalid("The user no longer has upstream credentials")
	}

	access, err := s.cfg.Tokens.Issue(claims.DeviceID, claims.UserID(), map[string]any{
		"email":  identity.EmailFromCanonical(claims.UserID()),
		"source": "device",
	}, gatewaytoken.ClassShort)
	if err != nil {
		return nil, apierrors.Internal(err)
	}
	s.cfg.Metrics.AuthFlow("device_refresh", "success")
	resp := tokenResponse(access)
	return &resp, nil
}
