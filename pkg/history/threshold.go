package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harun/stepwise/pkg/llm"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const (
	// MinMessages floors the message-count ceiling.
	MinMessages = 27

	DefaultMaxMessages  = 43
	DefaultTokenCeiling = 1280000
	DefaultTokenRatio   = 0.8

	encodingName = "cl100k_base"
)

// Config holds the reduction thresholds.
type Config struct {
	// MaxMessages is the message-count ceiling. Values below MinMessages are raised to it.
	MaxMessages int `mapstructure:"max_messages"`
	// TokenCeiling is the token budget of the whole log.
	TokenCeiling int `mapstructure:"token_ceiling"`
	// TokenRatio is the fraction of TokenCeiling that counts as exceeded.
	TokenRatio float64 `mapstructure:"token_ratio"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxMessages:  DefaultMaxMessages,
		TokenCeiling: DefaultTokenCeiling,
		TokenRatio:   DefaultTokenRatio,
	}
}

// Validate checks that every threshold is positive.
func (c Config) Validate() error {
	if c.MaxMessages <= 0 {
		return fmt.Errorf("max_messages must be positive, got %d", c.MaxMessages)
	}
	if c.TokenCeiling <= 0 {
		return fmt.Errorf("token_ceiling must be positive, got %d", c.TokenCeiling)
	}
	if c.TokenRatio <= 0 || c.TokenRatio > 1 {
		return fmt.Errorf("token_ratio must be in (0,1], got %v", c.TokenRatio)
	}
	return nil
}

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

// Count calls f.
func (f CounterFunc) Count(text string) int { return f(text) }

// TiktokenCounter counts with the cl100k_base encoding, loaded on first use.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a lazily initialized counter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count returns the token count, or 0 when the encoding is unavailable.
func (t *TiktokenCounter) Count(text string) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load tokenizer, token counting disabled")
			return
		}
		t.enc = enc
	})
	if t.enc == nil {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Threshold decides when the log needs reducing.
type Threshold struct {
	cfg     Config
	counter Counter
}

// NewThreshold builds a threshold. A nil counter uses tiktoken.
func NewThreshold(cfg Config, counter Counter) *Threshold {
	if cfg.MaxMessages < MinMessages {
		cfg.MaxMessages = MinMessages
	}
	if cfg.TokenCeiling <= 0 {
		cfg.TokenCeiling = DefaultTokenCeiling
	}
	if cfg.TokenRatio <= 0 {
		cfg.TokenRatio = DefaultTokenRatio
	}
	if counter == nil {
		counter = NewTiktokenCounter()
	}
	return &Threshold{cfg: cfg, counter: counter}
}

// MaxMessages returns the effective message-count ceiling.
func (t *Threshold) MaxMessages() int {
	return t.cfg.MaxMessages
}

// ExceedsMessages reports whether n messages reach the ceiling.
func (t *Threshold) ExceedsMessages(n int) bool {
	return n >= t.cfg.MaxMessages
}

// ExceedsTokens reports whether count reaches the configured ratio of the ceiling.
func (t *Threshold) ExceedsTokens(count int) bool {
	return float64(count)/float64(t.cfg.TokenCeiling) >= t.cfg.TokenRatio
}

// Exceeded checks the message count first and only counts tokens when needed.
func (t *Threshold) Exceeded(msgs []llm.Message) bool {
	if t.ExceedsMessages(len(msgs)) {
		return true
	}
	return t.ExceedsTokens(t.Tokens(msgs))
}

// Tokens counts the serialized log.
func (t *Threshold) Tokens(msgs []llm.Message) int {
	data, err := json.Marshal(msgs)
	if err != nil {
		return 0
	}
	return t.counter.Count(string(data))
}
