package agent

import (
	"sync"

	"github.com/loomwork/loom/pkg/llms"
)

// MemoryHistory is a count-bounded, in-process reasoning.HistoryService.
// It plays the "fallback" role the teacher's own HistoryService keeps even
// in its token-aware and summarizing modes; those modes are built on
// pkg/context, which this runtime doesn't carry (see DESIGN.md), so only the
// count-based behavior survives here.
type MemoryHistory struct {
	mu          sync.Mutex
	maxMessages int
	bySession   map[string][]llms.Message
}

// NewMemoryHistory returns a history store that keeps at most maxMessages
// per session, discarding the oldest once the bound is exceeded. A
// non-positive maxMessages defaults to 20.
func NewMemoryHistory(maxMessages int) *MemoryHistory {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &MemoryHistory{
		maxMessages: maxMessages,
		bySession:   make(map[string][]llms.Message),
	}
}

func (h *MemoryHistory) GetRecentHistory(sessionID string) ([]llms.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.bySession[sessionID]
	out := make([]llms.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (h *MemoryHistory) AddToHistory(sessionID string, msg llms.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := append(h.bySession[sessionID], msg)
	if len(msgs) > h.maxMessages {
		msgs = msgs[len(msgs)-h.maxMessages:]
	}
	h.bySession[sessionID] = msgs
	return nil
}

func (h *MemoryHistory) ClearHistory(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.bySession, sessionID)
	return nil
}
