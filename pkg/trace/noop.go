package trace

import (
	"context"
	"time"

	"github.com/loomwork/loom/pkg/llms"
	"github.com/loomwork/loom/pkg/task"
)

// noopSink discards every event. It's what New returns for LevelOff, so
// callers never need a nil check before recording.
type noopSink struct{}

// Noop returns a Sink that discards everything recorded to it.
func Noop() Sink { return noopSink{} }

func (noopSink) RecordPlan(context.Context, string, string, string, time.Duration)          {}
func (noopSink) RecordTask(context.Context, task.Task)                                      {}
func (noopSink) RecordModelCall(context.Context, string, []llms.Message, string, time.Duration) {}
func (noopSink) RecordToolCall(context.Context, string, string, map[string]interface{}, string, error, time.Duration) {
}
func (noopSink) RecordTransition(context.Context, string, task.Status, task.Status) {}
func (noopSink) RecordStreamChunk(context.Context, string, llms.StreamChunk)         {}
func (noopSink) RecordResult(context.Context, task.TaskResult)                       {}
func (noopSink) RecordReply(context.Context, string, time.Duration)                  {}
func (noopSink) Close() error                                                        { return nil }
