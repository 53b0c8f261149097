package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_TakeOnce(t *testing.T) {
	ss := NewStateStore(time.Minute)
	defer ss.Stop()

	ss.Put("state-1", "verifier-1", "session-1")
	st, ok := ss.Take("state-1")
	require.True(t, ok)
	assert.Equal(t, "verifier-1", st.CodeVerifier)
	assert.Equal(t, "session-1", st.SessionID)

	_, ok = ss.Take("state-1")
	assert.False(t, ok, "state must not be replayable")
}

func TestStateStore_Expired(t *testing.T) {
	ss := NewStateStore(time.Minute)
	defer ss.Stop()
	base := time.Now()
	ss.now = func() time.Time { return base }

	ss.Put("a", "v", "s")
	ss.Put("b", "v", "s")
	ss.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, ok := ss.Take("a")
	assert.False(t, ok)
	assert.Equal(t, 1, ss.Count())

	ss.cleanup()
	assert.Equal(t, 0, ss.Count())
}

func TestStateStore_Unknown(t *testing.T) {
	ss := NewStateStore(0)
	defer ss.Stop()
	_, ok := ss.Take("nope")
	assert.False(t, ok)
}
