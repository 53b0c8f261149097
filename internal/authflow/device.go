package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"m365gate/internal/metrics"
	"m365gate/internal/storage"
	"m365gate/pkg/logging"
	"m365gate/pkg/oauth"
)

// DeviceStatus is the state of a device authorization request.
type DeviceStatus string

const (
	DevicePending  DeviceStatus = "pending"
	DeviceApproved DeviceStatus = "approved"
	DeviceDenied   DeviceStatus = "denied"
	DeviceExpired  DeviceStatus = "expired"
)

// slowDownIncrement is added to the interval after each slow_down (RFC 8628 §3.5).
const slowDownIncrement = 5 * time.Second

// DeviceRequest is a pending device authorization.
type DeviceRequest struct {
	DeviceCode      string
	UserCode        string
	DeviceID        string
	ClientName      string
	VerificationURI string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Interval        time.Duration
	Status          DeviceStatus
	BoundUser       string
	lastPoll        time.Time
}

// DeviceRegistration is persisted once a device is approved.
type DeviceRegistration struct {
	DeviceID        string    `json:"device_id"`
	CanonicalUserID string    `json:"canonical_user_id"`
	ClientName      string    `json:"client_name,omitempty"`
	ApprovedAt      time.Time `json:"approved_at"`
}

// Device grant errors returned by Poll and Authorize.
var (
	ErrAuthorizationPending = errors.New(oauth.DeviceErrAuthorizationPending)
	ErrSlowDown             = errors.New(oauth.DeviceErrSlowDown)
	ErrAccessDenied         = errors.New(oauth.DeviceErrAccessDenied)
	ErrExpiredToken         = errors.New(oauth.DeviceErrExpiredToken)
	ErrInvalidGrant         = errors.New(oauth.DeviceErrInvalidGrant)
	ErrUnknownUserCode      = errors.New("unknown or expired user code")
)

// DeviceManagerConfig configures a DeviceManager.
type DeviceManagerConfig struct {
	Store           *storage.Store
	VerificationURI string
	TTL             time.Duration
	Interval        time.Duration
	CleanupInterval time.Duration
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// DeviceManager keeps device authorization requests in memory and persists
// approved device registrations.
type DeviceManager struct {
	mu       sync.Mutex
	requests map[string]*DeviceRequest // by device code
	byUser   map[string]string         // user code -> device code

	store           *storage.Store
	verificationURI string
	ttl             time.Duration
	interval        time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewDeviceManager creates a manager and starts its cleanup loop.
func NewDeviceManager(cfg DeviceManagerConfig) *DeviceManager {
	m := &DeviceManager{
		requests:        make(map[string]*DeviceRequest),
		byUser:          make(map[string]string),
		store:           cfg.Store,
		verificationURI: cfg.VerificationURI,
		ttl:             cfg.TTL,
		interval:        cfg.Interval,
		metrics:         cfg.Metrics,
		now:             cfg.Now,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	if m.interval <= 0 {
		m.interval = 5 * time.Second
	}
	if m.cleanupInterval <= 0 {
		m.cleanupInterval = time.Minute
	}
	if m.now == nil {
		m.now = time.Now
	}
	go m.cleanupLoop()
	return m
}

// Register creates a new pending request.
func (m *DeviceManager) Register(clientName string) (*DeviceRequest, error) {
	deviceCode, err := oauth.GenerateDeviceCode()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var userCode string
	for {
		userCode, err = oauth.GenerateUserCode()
		if err != nil {
			return nil, err
		}
		if _, taken := m.byUser[userCode]; !taken {
			break
		}
	}

	now := m.now()
	req := &DeviceRequest{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		DeviceID:        uuid.NewString(),
		ClientName:      clientName,
		VerificationURI: m.verificationURI,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
		Interval:        m.interval,
		Status:          DevicePending,
	}
	m.requests[deviceCode] = req
	m.byUser[userCode] = deviceCode
	m.metrics.SetPendingDeviceCodes(len(m.requests))

	logging.Info("DeviceGrant", "Registered device %s", req.DeviceID)
	cp := *req
	return &cp, nil
}

// Lookup returns a copy of the request for a user code.
func (m *DeviceManager) Lookup(userCode string) (*DeviceRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byUserCode(userCode)
	if !ok {
		return nil, false
	}
	cp := *req
	return &cp, true
}

func (m *DeviceManager) byUserCode(userCode string) (*DeviceRequest, bool) {
	dc, ok := m.byUser[oauth.NormalizeUserCode(userCode)]
	if !ok {
		return nil, false
	}
	req, ok := m.requests[dc]
	if !ok || !m.now().Before(req.ExpiresAt) {
		return nil, false
	}
	return req, true
}

// Authorize binds canonicalUserID to the request for userCode, or denies it.
func (m *DeviceManager) Authorize(ctx context.Context, userCode, canonicalUserID string, approve bool) (*DeviceRequest, error) {
	m.mu.Lock()
	req, ok := m.byUserCode(userCode)
	if !ok || req.Status != DevicePending {
		m.mu.Unlock()
		return nil, ErrUnknownUserCode
	}
	if !approve {
		req.Status = DeviceDenied
		cp := *req
		m.mu.Unlock()
		logging.Info("DeviceGrant", "Device %s denied", cp.DeviceID)
		return &cp, nil
	}
	req.Status = DeviceApproved
	req.BoundUser = canonicalUserID
	cp := *req
	m.mu.Unlock()

	reg := DeviceRegistration{
		DeviceID:        cp.DeviceID,
		CanonicalUserID: canonicalUserID,
		ClientName:      cp.ClientName,
		ApprovedAt:      m.now().UTC(),
	}
	if err := m.saveRegistration(ctx, reg); err != nil {
		return nil, err
	}
	logging.Info("DeviceGrant", "Device %s approved for user=%s", cp.DeviceID, logging.HashIdentity(canonicalUserID))
	return &cp, nil
}

// Poll reports the state of a request. An approved request is returned once
// and then removed.
func (m *DeviceManager) Poll(deviceCode string) (*DeviceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[deviceCode]
	if !ok {
		return nil, ErrInvalidGrant
	}
	now := m.now()
	if !now.Before(req.ExpiresAt) {
		m.remove(req)
		return nil, ErrExpiredToken
	}
	if !req.lastPoll.IsZero() && now.Sub(req.lastPoll) < req.Interval {
		req.lastPoll = now
		req.Interval += slowDownIncrement
		return nil, ErrSlowDown
	}
	req.lastPoll = now

	switch req.Status {
	case DeviceDenied:
		m.remove(req)
		return nil, ErrAccessDenied
	case DeviceApproved:
		m.remove(req)
		cp := *req
		return &cp, nil
	default:
		return nil, ErrAuthorizationPending
	}
}

func (m *DeviceManager) remove(req *DeviceRequest) {
	delete(m.requests, req.DeviceCode)
	delete(m.byUser, req.UserCode)
	m.metrics.SetPendingDeviceCodes(len(m.requests))
}

func registrationOwner(deviceID string) string { return "device:" + deviceID }

const registrationName = "registration"

func (m *DeviceManager) saveRegistration(ctx context.Context, reg DeviceRegistration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return m.store.SetSetting(ctx, registrationOwner(reg.DeviceID), registrationName, data)
}

// Registration returns the persisted registration for deviceID.
func (m *DeviceManager) Registration(ctx context.Context, deviceID string) (*DeviceRegistration, error) {
	data, err := m.store.GetSetting(ctx, registrationOwner(deviceID), registrationName)
	if err != nil {
		return nil, err
	}
	var reg DeviceRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Revoke deletes a device registration; its refresh tokens stop working.
func (m *DeviceManager) Revoke(ctx context.Context, deviceID string) error {
	return m.store.DeleteSettings(ctx, registrationOwner(deviceID), registrationName)
}

// Pending returns the number of live requests.
func (m *DeviceManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Stop stops the cleanup loop.
func (m *DeviceManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}

func (m *DeviceManager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *DeviceManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, req := range m.requests {
		if !now.Before(req.ExpiresAt) {
			m.remove(req)
			count++
		}
	}
	if count > 0 {
		logging.Debug("DeviceGrant", "Cleaned up %d expired device requests", count)
	}
}
