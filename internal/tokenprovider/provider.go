package tokenprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"m365gate/internal/metrics"
	"m365gate/internal/storage"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
	"m365gate/pkg/oauth"
)

// DefaultRefreshTimeout bounds one silent refresh.
const DefaultRefreshTimeout = 10 * time.Second

// Checker validates upstream tokens offline.
type Checker interface {
	QuickValidate(token string) upstream.Result
}

// Config configures a Provider.
type Config struct {
	Store     *storage.Store
	Checker   Checker
	Refresher Refresher
	Metrics   *metrics.Metrics
	// RefreshThreshold is the remaining lifetime below which a refresh is
	// attempted when a refresh token is stored.
	RefreshThreshold time.Duration
	RefreshTimeout   time.Duration
	Now              func() time.Time
}

// Provider implements the cache → store → refresh lookup.
type Provider struct {
	store     *storage.Store
	checker   Checker
	refresher Refresher
	metrics   *metrics.Metrics

	threshold      time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]string

	locks  sync.Map // canonical id -> *sync.Mutex
	flight singleflight.Group
}

// New creates a Provider.
func New(cfg Config) *Provider {
	p := &Provider{
		store:          cfg.Store,
		checker:        cfg.Checker,
		refresher:      cfg.Refresher,
		metrics:        cfg.Metrics,
		threshold:      cfg.RefreshThreshold,
		refreshTimeout: cfg.RefreshTimeout,
		now:            cfg.Now,
		cache:          make(map[string]string),
	}
	if p.threshold <= 0 {
		p.threshold = oauth.TokenRefreshThreshold
	}
	if p.refreshTimeout <= 0 {
		p.refreshTimeout = DefaultRefreshTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

func (p *Provider) lockFor(id string) *sync.Mutex {
	m, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// GetUpstreamToken returns a live upstream bearer for canonicalUserID.
func (p *Provider) GetUpstreamToken(ctx context.Context, canonicalUserID string) (string, error) {
	if canonicalUserID == "" {
		return "", noValidToken()
	}

	if tok, ok := p.cached(canonicalUserID); ok {
		res := p.checker.QuickValidate(tok)
		if res.Valid && !p.nearExpiry(res) {
			return tok, nil
		}
	}

	token, res, err := p.readStored(ctx, canonicalUserID)
	if err != nil {
		return "", err
	}
	refreshToken, err := p.getSecret(ctx, canonicalUserID, KeyRefreshToken)
	if err != nil {
		return "", err
	}

	switch {
	case token != "" && !p.nearExpiry(res):
		p.setCache(canonicalUserID, token)
		return token, nil

	case refreshToken != "" && p.refresher != nil:
		fresh, rerr := p.refresh(ctx, canonicalUserID, refreshToken)
		if rerr == nil {
			return fresh, nil
		}
		if token != "" {
			// Still valid for a few minutes; let the next call retry.
			logging.Warn("TokenProvider", "Proactive refresh failed for user=%s, using current token: %v",
				logging.HashIdentity(canonicalUserID), rerr)
			p.setCache(canonicalUserID, token)
			return token, nil
		}
		return "", rerr

	case token != "":
		p.setCache(canonicalUserID, token)
		return token, nil
	}

	p.dropCache(canonicalUserID)
	return "", noValidToken()
}

func (p *Provider) nearExpiry(res upstream.Result) bool {
	if res.Metadata == nil {
		return true
	}
	return res.Metadata.ExpiresAt.Sub(p.now()) < p.threshold
}

// readStored returns the first of primary and mirror that passes quick
// validation. It returns "" when neither does.
func (p *Provider) readStored(ctx context.Context, id string) (string, upstream.Result, error) {
	for _, key := range []string{KeyUpstreamToken, KeyUpstreamTokenMirror} {
		tok, err := p.getSecret(ctx, id, key)
		if err != nil {
			return "", upstream.Result{}, err
		}
		if tok == "" {
			continue
		}
		if res := p.checker.QuickValidate(tok); res.Valid {
			if key == KeyUpstreamTokenMirror {
				logging.Warn("TokenProvider", "Primary token unusable for user=%s, adopted mirror", logging.HashIdentity(id))
			}
			return tok, res, nil
		}
	}
	return "", upstream.Result{}, nil
}

func (p *Provider) getSecret(ctx context.Context, id, key string) (string, error) {
	v, err := p.store.GetSecret(ctx, id, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(v), nil
}

// refresh coalesces concurrent refreshes for one user. The upstream call runs
// detached from any single caller so one cancelled request does not fail the
// others; each caller still stops waiting when its own context ends.
func (p *Provider) refresh(ctx context.Context, id, refreshToken string) (string, error) {
	ch := p.flight.DoChan(id, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()

		tok, err := p.refresher.Refresh(rctx, refreshToken)
		if err != nil {
			p.metrics.TokenRefresh("failure")
			logging.Warn("TokenProvider", "Silent refresh failed for user=%s: %v", logging.HashIdentity(id), err)
			return "", reauthRequired(err)
		}
		p.metrics.TokenRefresh("success")

		source, _ := p.getSecret(rctx, id, KeySource)
		if s := Source(source); s != SourceInteractive && s != SourceDevice {
			source = string(SourceInteractive)
		}
		rec := Record{
			UpstreamToken: tok.AccessToken,
			RefreshToken:  tok.RefreshToken,
			Source:        Source(source),
		}
		rec.Metadata = p.metadataFor(tok.AccessToken, rec.Source, tok.ExpiresAt)
		if err := p.WriteRecord(rctx, id, rec); err != nil {
			return "", err
		}
		logging.Info("TokenProvider", "Refreshed upstream token for user=%s", logging.HashIdentity(id))
		return tok.AccessToken, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// metadataFor builds record metadata from a token's claims.
func (p *Provider) metadataFor(token string, source Source, fallbackExpiry time.Time) Metadata {
	md := Metadata{Source: source, ExpiresAt: fallbackExpiry, Scopes: []string{}}
	if res := p.checker.QuickValidate(token); res.Valid && res.Metadata != nil {
		md.User = res.Metadata.User
		md.ExpiresAt = res.Metadata.ExpiresAt
		md.Scopes = res.Metadata.Scopes
	}
	return md
}

// WriteRecord stores rec for canonicalUserID. The primary and mirror keys,
// metadata and source are written in one backend call under the user's lock.
// External and exchange records drop the active refresh token so a later
// lookup can never silently replace them with an interactive credential.
func (p *Provider) WriteRecord(ctx context.Context, canonicalUserID string, rec Record) error {
	if rec.UpstreamToken == "" {
		return errors.New("token record requires an upstream token")
	}
	if !rec.Source.Valid() {
		return fmt.Errorf("invalid token source %q", rec.Source)
	}
	rec.Metadata.Source = rec.Source
	rec.Metadata.UpdatedAt = p.now().UTC()
	if rec.Metadata.Scopes == nil {
		rec.Metadata.Scopes = []string{}
	}
	mdJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode token metadata: %w", err)
	}

	values := map[string][]byte{
		KeyUpstreamToken:       []byte(rec.UpstreamToken),
		KeyUpstreamTokenMirror: []byte(rec.UpstreamToken),
		KeyMetadata:            mdJSON,
		KeySource:              []byte(rec.Source),
	}
	if rec.Source == SourceExternal {
		values[KeyExternalToken] = []byte(rec.UpstreamToken)
	}

	lock := p.lockFor(canonicalUserID)
	lock.Lock()
	defer lock.Unlock()

	var drop []string
	switch rec.Source {
	case SourceExternal, SourceExchange:
		// These records never carry a refresh token. An interactive one is
		// parked so SwitchSource can resume it.
		current, err := p.getSecret(ctx, canonicalUserID, KeyRefreshToken)
		if err != nil {
			return err
		}
		if current != "" {
			values[KeyParkedRefreshToken] = []byte(current)
		}
		drop = []string{KeyRefreshToken}
	default:
		if rec.RefreshToken != "" {
			values[KeyRefreshToken] = []byte(rec.RefreshToken)
			drop = []string{KeyParkedRefreshToken}
		}
	}

	if err := p.store.SetSecrets(ctx, canonicalUserID, values); err != nil {
		return fmt.Errorf("failed to write token record: %w", err)
	}
	if len(drop) > 0 {
		if err := p.store.DeleteSecrets(ctx, canonicalUserID, drop...); err != nil {
			return fmt.Errorf("failed to write token record: %w", err)
		}
	}
	if userJSON, err := json.Marshal(rec.Metadata.User); err == nil {
		if err := p.store.SetSetting(ctx, canonicalUserID, SettingUserInfo, userJSON); err != nil {
			logging.Warn("TokenProvider", "Failed to write user info for user=%s: %v", logging.HashIdentity(canonicalUserID), err)
		}
	}
	p.setCache(canonicalUserID, rec.UpstreamToken)

	logging.Debug("TokenProvider", "Wrote token record for user=%s source=%s", logging.HashIdentity(canonicalUserID), rec.Source)
	return nil
}

// ReadRecord returns the stored record, or storage.ErrNotFound.
func (p *Provider) ReadRecord(ctx context.Context, canonicalUserID string) (*Record, error) {
	tok, err := p.getSecret(ctx, canonicalUserID, KeyUpstreamToken)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		if tok, err = p.getSecret(ctx, canonicalUserID, KeyUpstreamTokenMirror); err != nil {
			return nil, err
		}
	}
	if tok == "" {
		return nil, storage.ErrNotFound
	}

	rec := &Record{UpstreamToken: tok}
	if rec.RefreshToken, err = p.getSecret(ctx, canonicalUserID, KeyRefreshToken); err != nil {
		return nil, err
	}
	source, err := p.getSecret(ctx, canonicalUserID, KeySource)
	if err != nil {
		return nil, err
	}
	rec.Source = Source(source)

	mdJSON, err := p.getSecret(ctx, canonicalUserID, KeyMetadata)
	if err != nil {
		return nil, err
	}
	if mdJSON != "" {
		if err := json.Unmarshal([]byte(mdJSON), &rec.Metadata); err != nil {
			logging.Warn("TokenProvider", "Ignoring unreadable metadata for user=%s: %v", logging.HashIdentity(canonicalUserID), err)
		}
	}
	return rec, nil
}

// HasRecord reports whether a token record exists. The identity resolver
// calls it for every gateway token, so a cached token short-circuits the
// storage read.
func (p *Provider) HasRecord(ctx context.Context, canonicalUserID string) (bool, error) {
	if _, ok := p.cached(canonicalUserID); ok {
		return true, nil
	}
	_, err := p.ReadRecord(ctx, canonicalUserID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Clear removes the whole record, the user info setting and the cache entry.
func (p *Provider) Clear(ctx context.Context, canonicalUserID string) error {
	lock := p.lockFor(canonicalUserID)
	lock.Lock()
	defer lock.Unlock()

	p.dropCache(canonicalUserID)
	if err := p.store.DeleteSecrets(ctx, canonicalUserID, recordKeys...); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	if err := p.store.DeleteSettings(ctx, canonicalUserID, SettingUserInfo); err != nil {
		return fmt.Errorf("failed to delete user info: %w", err)
	}
	logging.Debug("TokenProvider", "Cleared token record for user=%s", logging.HashIdentity(canonicalUserID))
	return nil
}

// ClearExternal removes the stored external token. When it is also the active
// credential the active token is removed too; a stored refresh token is kept
// so the interactive session can be resumed. It reports whether anything was
// removed.
func (p *Provider) ClearExternal(ctx context.Context, canonicalUserID string) (bool, error) {
	lock := p.lockFor(canonicalUserID)
	lock.Lock()
	defer lock.Unlock()

	external, err := p.getSecret(ctx, canonicalUserID, KeyExternalToken)
	if err != nil {
		return false, err
	}
	source, err := p.getSecret(ctx, canonicalUserID, KeySource)
	if err != nil {
		return false, err
	}
	if external == "" && Source(source) != SourceExternal {
		return false, nil
	}

	names := []string{KeyExternalToken}
	if Source(source) == SourceExternal {
		names = append(names, KeyUpstreamToken, KeyUpstreamTokenMirror, KeyMetadata, KeySource)
		p.dropCache(canonicalUserID)
	}
	if err := p.store.DeleteSecrets(ctx, canonicalUserID, names...); err != nil {
		return false, fmt.Errorf("failed to delete external token: %w", err)
	}
	return true, nil
}

// SwitchSource makes the given source the active credential. Switching to
// interactive runs a refresh with the stored refresh token; switching to
// external re-activates the last injected external token.
func (p *Provider) SwitchSource(ctx context.Context, canonicalUserID string, to Source) (*Record, error) {
	switch to {
	case SourceInteractive:
		refreshToken, err := p.getSecret(ctx, canonicalUserID, KeyRefreshToken)
		if err != nil {
			return nil, err
		}
		if refreshToken == "" {
			if refreshToken, err = p.getSecret(ctx, canonicalUserID, KeyParkedRefreshToken); err != nil {
				return nil, err
			}
		}
		if refreshToken == "" || p.refresher == nil {
			return nil, ErrNoInteractiveSession
		}
		// refresh stores the result as interactive unless the record is
		// already a device record.
		if _, err := p.refresh(ctx, canonicalUserID, refreshToken); err != nil {
			return nil, err
		}

	case SourceExternal:
		external, err := p.getSecret(ctx, canonicalUserID, KeyExternalToken)
		if err != nil {
			return nil, err
		}
		if external == "" {
			return nil, ErrNoExternalToken
		}
		res := p.checker.QuickValidate(external)
		if !res.Valid {
			return nil, res.Err()
		}
		rec := Record{UpstreamToken: external, Source: SourceExternal}
		rec.Metadata = p.metadataFor(external, SourceExternal, time.Time{})
		if err := p.WriteRecord(ctx, canonicalUserID, rec); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("cannot switch to source %q", to)
	}
	return p.ReadRecord(ctx, canonicalUserID)
}

// UserInfo returns the stored ms-user-info setting.
func (p *Provider) UserInfo(ctx context.Context, canonicalUserID string) (*upstream.User, error) {
	raw, err := p.store.GetSetting(ctx, canonicalUserID, SettingUserInfo)
	if err != nil {
		return nil, err
	}
	var u upstream.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &u, nil
}

func (p *Provider) cached(id string) (string, bool) {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	tok, ok := p.cache[id]
	return tok, ok
}

func (p *Provider) setCache(id, token string) {
	p.cacheMu.Lock()
	p.cache[id] = token
	p.cacheMu.Unlock()
}

func (p *Provider) dropCache(id string) {
	p.cacheMu.Lock()
	delete(p.cache, id)
	p.cacheMu.Unlock()
}

// CacheSize returns the number of cached tokens.
func (p *Provider) CacheSize() int {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	return len(p.cache)
}
