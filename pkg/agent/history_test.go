package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/pkg/llms"
)

func TestMemoryHistory_AddAndGet(t *testing.T) {
	h := NewMemoryHistory(3)

	require.NoError(t, h.AddToHistory("s1", llms.Message{Role: "user", Content: "one"}))
	require.NoError(t, h.AddToHistory("s1", llms.Message{Role: "assistant", Content: "two"}))

	recent, err := h.GetRecentHistory("s1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "one", recent[0].Content)
	assert.Equal(t, "two", recent[1].Content)
}

func TestMemoryHistory_TrimsToMax(t *testing.T) {
	h := NewMemoryHistory(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.AddToHistory("s1", llms.Message{Role: "user", Content: string(rune('a' + i))}))
	}

	recent, err := h.GetRecentHistory("s1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Content)
	assert.Equal(t, "e", recent[1].Content)
}

func TestMemoryHistory_SessionsAreIsolated(t *testing.T) {
	h := NewMemoryHistory(10)
	require.NoError(t, h.AddToHistory("s1", llms.Message{Role: "user", Content: "a"}))
	require.NoError(t, h.AddToHistory("s2", llms.Message{Role: "user", Content: "b"}))

	s1, err := h.GetRecentHistory("s1")
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, "a", s1[0].Content)

	s2, err := h.GetRecentHistory("s2")
	require.NoError(t, err)
	require.Len(t, s2, 1)
	assert.Equal(t, "b", s2[0].Content)
}

func TestMemoryHistory_Clear(t *testing.T) {
	h := NewMemoryHistory(10)
	require.NoError(t, h.AddToHistory("s1", llms.Message{Role: "user", Content: "a"}))
	require.NoError(t, h.ClearHistory("s1"))

	recent, err := h.GetRecentHistory("s1")
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMemoryHistory_DefaultsNonPositiveMax(t *testing.T) {
	h := NewMemoryHistory(0)
	assert.Equal(t, 20, h.maxMessages)
}
