package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestFromOAuth2Token(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	src := (&oauth2.Token{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		Expiry:       expiry,
	}).WithExtra(map[string]interface{}{"id_token": "idt", "scope": "Mail.Read"})

	tok := FromOAuth2Token(src)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, "idt", tok.IDToken)
	assert.Equal(t, "Mail.Read", tok.Scope)
	assert.True(t, tok.ExpiresAt.Equal(expiry))

	back := tok.ToOAuth2Token()
	assert.Equal(t, "rt", back.RefreshToken)
	assert.Nil(t, FromOAuth2Token(nil))
}

func TestToken_IsExpiredWithMargin(t *testing.T) {
	var nilTok *Token
	assert.True(t, nilTok.IsExpiredWithMargin(0))
	assert.False(t, (&Token{}).IsExpiredWithMargin(time.Hour))
	assert.True(t, (&Token{ExpiresAt: time.Now().Add(10 * time.Second)}).IsExpiredWithMargin(DefaultExpiryMargin))
	assert.False(t, (&Token{ExpiresAt: time.Now().Add(time.Hour)}).IsExpiredWithMargin(DefaultExpiryMargin))
}
