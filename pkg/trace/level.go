package trace

import "fmt"

// Level gates how much of a run a Sink records. Each level is a strict
// superset of the one before it.
type Level int

const (
	// LevelOff records nothing; New returns a noop Sink for it.
	LevelOff Level = iota
	// LevelSummary records the plan query and timing, task specs, status
	// transitions, every task's final result, and the reply's timing; no
	// prompts, model calls or tool calls.
	LevelSummary
	// LevelBasic adds model-call and tool-call prompts/results, with large
	// strings truncated to Config.TruncateBytes.
	LevelBasic
	// LevelFull records everything LevelBasic does, untruncated.
	LevelFull
	// LevelDebug adds individual streaming-chunk boundaries on top of Full.
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelSummary:
		return "summary"
	case LevelBasic:
		return "basic"
	case LevelFull:
		return "full"
	case LevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("trace.Level(%d)", int(l))
	}
}

// ParseLevel parses the string form of a Level (off|summary|basic|full|debug).
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "off":
		return LevelOff, nil
	case "summary":
		return LevelSummary, nil
	case "basic":
		return LevelBasic, nil
	case "full":
		return LevelFull, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("trace: unknown level %q (want off|summary|basic|full|debug)", s)
	}
}

// UnmarshalYAML decodes a Level from its string form, matching how
// pkg/config decodes other string-enum fields.
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML encodes a Level back to its string form.
func (l Level) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// UnmarshalJSON decodes a Level from its string form for session config
// persisted as JSON.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalJSON encodes a Level back to its quoted string form.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

func (l Level) atLeast(min Level) bool {
	return l >= min
}
