package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaanihq/vaani/channel"
)

func TestStore_GetOrCreate(t *testing.T) {
	s := NewStore(100, time.Minute)
	defer s.Close()

	t.Run("creates fresh session with platform tag", func(t *testing.T) {
		sess := s.GetOrCreate("web-new-1", channel.PlatformWeb)
		require.NotNil(t, sess)
		assert.Equal(t, channel.PlatformWeb, sess.Platform())
		_, ok := sess.Get(KeyCreatedAt)
		assert.True(t, ok)
	})

	t.Run("returns existing session on second call", func(t *testing.T) {
		first := s.GetOrCreate("wa-1", channel.PlatformWhatsApp)
		first.Set("phone", "9999999999")

		second := s.GetOrCreate("wa-1", channel.PlatformWhatsApp)
		assert.Equal(t, "9999999999", second.GetString("phone"))
	})

	t.Run("unknown recipient yields nil from Get", func(t *testing.T) {
		assert.Nil(t, s.Get("never-seen"))
	})
}

func TestStore_TTLExpiry(t *testing.T) {
	s := NewStore(100, 30*time.Millisecond)
	defer s.Close()

	s.GetOrCreate("r1", channel.PlatformSMS)
	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, s.Get("r1"), "expired session should read as empty")
}

func TestStore_TouchSlidesTTL(t *testing.T) {
	s := NewStore(100, 60*time.Millisecond)
	defer s.Close()

	s.GetOrCreate("r1", channel.PlatformWeb)
	time.Sleep(40 * time.Millisecond)
	s.Touch("r1")
	time.Sleep(40 * time.Millisecond)

	// 80ms since creation but only 40ms since touch.
	assert.NotNil(t, s.Get("r1"))
}

func TestStore_SetDataGetData(t *testing.T) {
	s := NewStore(100, time.Minute)
	defer s.Close()

	s.SetData("r1", KeyModule, "food")
	s.SetMany("r1", map[string]any{
		KeyAuthenticated: true,
		KeyUserID:        "u-42",
	})

	v, ok := s.GetData("r1", KeyModule)
	require.True(t, ok)
	assert.Equal(t, "food", v)

	sess := s.Get("r1")
	require.NotNil(t, sess)
	assert.True(t, sess.Authenticated())
	assert.Equal(t, "u-42", sess.GetString(KeyUserID))
}

func TestStore_Clear(t *testing.T) {
	s := NewStore(100, time.Minute)
	defer s.Close()

	s.GetOrCreate("r1", channel.PlatformWeb)
	s.Clear("r1")
	assert.Nil(t, s.Get("r1"))
}

func TestStore_OnExpire(t *testing.T) {
	s := NewStore(100, 20*time.Millisecond)
	defer s.Close()

	var expired []string
	s.OnExpire(func(sess *Session) {
		expired = append(expired, sess.RecipientID)
	})

	sess := s.GetOrCreate("r1", channel.PlatformWeb)
	sess.SetActiveRunID("run-1")

	time.Sleep(40 * time.Millisecond)
	assert.Nil(t, s.Get("r1"))
	require.Len(t, expired, 1)
	assert.Equal(t, "r1", expired[0])
}

func TestSession_History(t *testing.T) {
	sess := newSession("r1", channel.PlatformWeb)

	for i := 0; i < MaxHistoryTurns+5; i++ {
		sess.AppendTurn("user", "hello")
	}
	assert.Len(t, sess.History(), MaxHistoryTurns, "history is bounded")
}

func TestSession_PendingIntent(t *testing.T) {
	sess := newSession("r1", channel.PlatformWhatsApp)
	require.Nil(t, sess.PendingIntent())

	sess.SetPendingIntent(&PendingIntent{Intent: "order_food", Text: "order pizza"})
	pi := sess.PendingIntent()
	require.NotNil(t, pi)
	assert.Equal(t, "order_food", pi.Intent)

	sess.SetPendingIntent(nil)
	assert.Nil(t, sess.PendingIntent())
}
