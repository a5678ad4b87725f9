package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"farm-advisory-agent/internal/domain"
)

func userMsg(content string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        content,
		Role:      domain.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func TestNewStore_RequiresSystemPrompt(t *testing.T) {
	_, err := NewStore("")
	require.Error(t, err)
}

func TestStore_GetReturnsSameSession(t *testing.T) {
	st, err := NewStore("persona")
	require.NoError(t, err)

	a := st.Get("u1", "f1")
	b := st.Get("u1", "f1")
	require.Same(t, a, b)

	other := st.Get("u1", "f2")
	require.NotSame(t, a, other)
}

func TestSession_WindowKeepsPinnedSystemMessage(t *testing.T) {
	st, err := NewStore("persona", WithWindow(3))
	require.NoError(t, err)
	s := st.Get("u1", "f1")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(userMsg(fmt.Sprintf("m%d", i))))
	}

	win := s.Window()
	require.Len(t, win, 4) // system + 3
	require.Equal(t, domain.RoleSystem, win[0].Role)
	require.Equal(t, "persona", win[0].Content)
	// Oldest non-system messages dropped first.
	require.Equal(t, "m2", win[1].Content)
	require.Equal(t, "m4", win[3].Content)
}

func TestSession_AppendRejectsSystemRole(t *testing.T) {
	st, err := NewStore("persona")
	require.NoError(t, err)
	s := st.Get("u1", "f1")

	err = s.Append(domain.ChatMessage{Role: domain.RoleSystem, Content: "sneaky"})
	require.Error(t, err)
	require.Len(t, s.History(), 0)
}

func TestSession_SnapshotPinning(t *testing.T) {
	st, err := NewStore("persona")
	require.NoError(t, err)
	s := st.Get("u1", "f1")

	require.Nil(t, s.Snapshot())
	snap := &domain.TelemetrySnapshot{FarmID: "f1"}
	s.SetSnapshot(snap)
	require.Same(t, snap, s.Snapshot())
}

func TestSession_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	st, err := NewStore("persona", WithWindow(1000))
	require.NoError(t, err)
	s := st.Get("u1", "f1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(userMsg(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	hist := s.History()
	require.Len(t, hist, 50)
	for _, m := range hist {
		require.NotEmpty(t, m.Content)
	}
}
