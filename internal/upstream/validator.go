package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"m365gate/pkg/logging"
)

// GraphAppID is the well-known application id Microsoft Graph tokens may
// carry as audience instead of the URL form.
const GraphAppID = "00000003-0000-0000-c000-000000000000"

// DefaultProbeTimeout bounds the /me liveness probe.
const DefaultProbeTimeout = 10 * time.Second

// Result is the outcome of a validation. It is returned, never thrown.
type Result struct {
	Valid     bool          `json:"valid"`
	ErrorCode string        `json:"error_code,omitempty"`
	Message   string        `json:"message,omitempty"`
	Metadata  *Metadata     `json:"metadata,omitempty"`
	Decoded   *DecodedToken `json:"-"`
}

// Err returns the result as a *ValidationError, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return newValidationError(r.ErrorCode, r.Message, nil)
}

func invalid(err error) Result {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Result{ErrorCode: ve.Code, Message: ve.Message}
	}
	return Result{ErrorCode: ErrCodeInvalidFormat, Message: err.Error()}
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Audience is the accepted aud value, e.g. https://graph.microsoft.com.
	Audience string
	// GraphBaseURL is the API root; the probe calls GraphBaseURL + "/me".
	GraphBaseURL string
	HTTPClient   *http.Client
	Timeout      time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validator decodes and checks upstream tokens.
type Validator struct {
	audiences  []string
	meURL      string
	httpClient *http.Client
	timeout    time.Duration
	now        func() time.Time
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		audiences:  []string{strings.TrimSuffix(cfg.Audience, "/")},
		meURL:      strings.TrimSuffix(cfg.GraphBaseURL, "/") + "/me",
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		now:        cfg.Now,
	}
	if strings.Contains(cfg.Audience, "graph.microsoft.com") {
		v.audiences = append(v.audiences, GraphAppID)
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{}
	}
	if v.timeout <= 0 {
		v.timeout = DefaultProbeTimeout
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Decode parses token without verifying its signature.
func (v *Validator) Decode(token string) (*DecodedToken, error) {
	return Decode(token)
}

// QuickValidate checks structure, required claims, audience and expiry
// offline.
func (v *Validator) QuickValidate(token string) Result {
	decoded, err := Decode(token)
	if err != nil {
		return invalid(err)
	}

	var missing []string
	for _, claim := range []string{"aud", "exp", "iat"} {
		if _, ok := decoded.Claims[claim]; !ok {
			missing = append(missing, claim)
		}
	}
	if len(missing) > 0 {
		return Result{
			ErrorCode: ErrCodeMissingClaims,
			Message:   "token is missing required claims: " + strings.Join(missing, ", "),
		}
	}

	if !v.audienceMatches(decoded) {
		return Result{ErrorCode: ErrCodeInvalidAudience, Message: "token audience is not the upstream API"}
	}

	now := v.now()
	exp, err := decoded.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Result{ErrorCode: ErrCodeMissingClaims, Message: "token exp claim is not a number"}
	}
	if exp.Unix() <= now.Unix() {
		return Result{ErrorCode: ErrCodeTokenExpired, Message: "token has expired"}
	}
	if _, err := decoded.Claims.GetIssuedAt(); err != nil {
		return Result{ErrorCode: ErrCodeMissingClaims, Message: "token iat claim is not a number"}
	}

	return Result{
		Valid:    true,
		Metadata: ExtractMetadata(decoded, nil, now),
		Decoded:  decoded,
	}
}

func (v *Validator) audienceMatches(d *DecodedToken) bool {
	auds, err := d.Claims.GetAudience()
	if err != nil {
		return false
	}
	for _, aud := range auds {
		aud = strings.TrimSuffix(aud, "/")
		for _, want := range v.audiences {
			if want != "" && aud == want {
				return true
			}
		}
	}
	return false
}

// FullValidate runs QuickValidate and then probes the upstream /me endpoint.
// Profile fields returned by the probe replace in-token display name and email.
func (v *Validator) FullValidate(ctx context.Context, token string) Result {
	res := v.QuickValidate(token)
	if !res.Valid {
		return res
	}

	profile, err := v.FetchProfile(ctx, res.Decoded.Raw)
	if err != nil {
		logging.Debug("Validator", "Upstream probe failed: %v", err)
		return Result{ErrorCode: ErrCodeValidationFailed, Message: "upstream rejected the token or was unreachable"}
	}

	res.Metadata = ExtractMetadata(res.Decoded, profile, v.now())
	return res
}

// FetchProfile calls GET /me with the bearer. It is not retried.
func (v *Validator) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.meURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+StripBearer(token))
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}
