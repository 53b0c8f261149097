package tokenprovider

import (
	"time"

	"m365gate/internal/upstream"
)

// Source identifies the auth flow that produced a record.
type Source string

const (
	SourceInteractive Source = "interactive"
	SourceDevice      Source = "device"
	SourceExternal    Source = "external"
	SourceExchange    Source = "exchange"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceInteractive, SourceDevice, SourceExternal, SourceExchange:
		return true
	}
	return false
}

// Secure value names that make up a TokenRecord.
const (
	KeyUpstreamToken       = "upstream_token"
	KeyUpstreamTokenMirror = "upstream_token_mirror"
	KeyMetadata            = "metadata"
	KeySource              = "source"
	KeyRefreshToken        = "refresh_token"
	// KeyExternalToken keeps the last injected external token so the caller
	// can switch back to it after using the interactive credential.
	KeyExternalToken = "external_token"
	// KeyParkedRefreshToken holds the interactive refresh token while an
	// external or exchanged token is active. Only SwitchSource reads it.
	KeyParkedRefreshToken = "interactive_refresh_token"
)

// SettingUserInfo is the non-secret profile setting written next to a record.
const SettingUserInfo = "ms-user-info"

var recordKeys = []string{
	KeyUpstreamToken, KeyUpstreamTokenMirror, KeyMetadata, KeySource,
	KeyRefreshToken, KeyExternalToken, KeyParkedRefreshToken,
}

// Metadata is the stored description of the upstream token.
type Metadata struct {
	User      upstream.User `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
	Scopes    []string      `json:"scopes"`
	Source    Source        `json:"source"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Record is the TokenRecord for one canonical user id.
type Record struct {
	UpstreamToken string
	// RefreshToken is only set by the interactive and device flows. For those
	// sources an empty value on write keeps the stored refresh token; external
	// and exchange writes always remove it.
	RefreshToken string
	Source       Source
	Metadata     Metadata
}
