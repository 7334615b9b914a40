package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/history"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/harun/stepwise/pkg/step"
	"github.com/rs/zerolog"
)

// RetrievePrefix starts the raw_text of an archive step.
const RetrievePrefix = "retrieve_msg by msg_id="

const (
	DefaultHead    = 3
	DefaultTail    = 11
	DefaultMaxSize = 1024
)

// attention lists the step tags worth archiving.
var attention = map[string]bool{
	step.NameAction:      true,
	step.NameObservation: true,
}

// LinkerConfig tunes the scan window and size cutoff.
type LinkerConfig struct {
	// Head messages at the start of the log are never scanned.
	Head int
	// Tail most recent messages are never scanned.
	Tail int
	// MaxSize is the serialized step size above which a step is archived.
	MaxSize int

	Store     Store
	Threshold *history.Threshold
	// Counter reports saved tokens in logs. Optional.
	Counter history.Counter
	Logger  zerolog.Logger
}

// Linker is a history hook that archives oversized steps.
type Linker struct {
	cfg LinkerConfig
}

// NewLinker builds a linker. Zero window values take the defaults.
func NewLinker(cfg LinkerConfig) (*Linker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("archive store is required")
	}
	if cfg.Threshold == nil {
		cfg.Threshold = history.NewThreshold(history.DefaultConfig(), cfg.Counter)
	}
	if cfg.Head <= 0 {
		cfg.Head = DefaultHead
	}
	if cfg.Tail <= 0 {
		cfg.Tail = DefaultTail
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Linker{cfg: cfg}, nil
}

// Name implements history.Hook.
func (l *Linker) Name() string { return "archive_linker" }

// AfterAppend links messages once the conversation crosses its threshold.
func (l *Linker) AfterAppend(ctx context.Context, conv *history.Conversation) error {
	if !l.cfg.Threshold.Exceeded(conv.Messages()) {
		return nil
	}
	_, err := l.Link(ctx, conv)
	return err
}

// Link archives every qualifying step in the scan window and returns how many
// were replaced.
func (l *Linker) Link(ctx context.Context, conv *history.Conversation) (int, error) {
	log := tracing.LoggerFromContext(ctx, l.cfg.Logger)
	end := conv.Len() - l.cfg.Tail

	linked := 0
	for i := l.cfg.Head; i < end; i++ {
		msg := conv.At(i)
		steps, ok := stepsOf(msg)
		if !ok {
			continue
		}

		changed := false
		for j, s := range steps {
			if !attention[s.Name] || len(s.JSON()) <= l.cfg.MaxSize {
				continue
			}
			rec, err := l.archive(ctx, s)
			if err != nil {
				return linked, err
			}
			steps[j] = step.New(step.NameArchive, RetrievePrefix+rec.MsgID)
			changed = true
			linked++

			saved := 0
			if l.cfg.Counter != nil {
				saved = l.cfg.Counter.Count(rec.Message)
			}
			log.Info().
				Str("msg_id", rec.MsgID).
				Int("length", rec.Size).
				Int("save_tokens", saved).
				Msg("Message archived")
		}

		if changed {
			if err := conv.SetContent(i, step.MustMarshal(steps...)); err != nil {
				return linked, err
			}
		}
	}
	return linked, nil
}

func (l *Linker) archive(ctx context.Context, s step.Step) (Record, error) {
	rec := NewRecord(archivedText(s), tracing.GetSessionID(ctx))
	if err := l.cfg.Store.AddMessage(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("failed to archive step %s: %w", s.Name, err)
	}
	observability.RecordArchivedMessage(rec.Size)
	return rec, nil
}

// archivedText is raw_text for a plain step and the step JSON otherwise.
func archivedText(s step.Step) string {
	if s.FieldCount() == 2 && s.RawText != "" {
		return s.RawText
	}
	return s.JSON()
}

// stepsOf decodes the steps of a message that is eligible for linking. A
// tool message that is not a step list counts as one observation step.
func stepsOf(msg llm.Message) ([]step.Step, bool) {
	if msg.Role == llm.RoleSystem || msg.Role == llm.RoleUser || msg.Content == "" {
		return nil, false
	}
	if steps, ok := decodeSteps(msg.Content); ok {
		return steps, true
	}
	if msg.Role == llm.RoleTool && !strings.HasPrefix(msg.Content, RetrievePrefix) {
		return []step.Step{step.New(step.NameObservation, msg.Content)}, true
	}
	return nil, false
}

func decodeSteps(content string) ([]step.Step, bool) {
	switch content[0] {
	case '[':
		var steps []step.Step
		if err := json.Unmarshal([]byte(content), &steps); err != nil || len(steps) == 0 {
			return nil, false
		}
		return steps, true
	case '{':
		var s step.Step
		if err := json.Unmarshal([]byte(content), &s); err != nil {
			return nil, false
		}
		return []step.Step{s}, true
	}
	return nil, false
}
