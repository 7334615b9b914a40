package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultJanitorSchedule = "@every 1h"
	DefaultRetention       = 7 * 24 * time.Hour
)

// Cleaner deletes entries older than a retention window.
type Cleaner interface {
	Name() string
	Clean(ctx context.Context, olderThan time.Duration) (int, error)
}

// CleanerFunc adapts a function to Cleaner.
type CleanerFunc struct {
	Label string
	Fn    func(ctx context.Context, olderThan time.Duration) (int, error)
}

// Name implements Cleaner.
func (c CleanerFunc) Name() string { return c.Label }

// Clean implements Cleaner.
func (c CleanerFunc) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	return c.Fn(ctx, olderThan)
}

// MessageCleaner cleans the archive by access time.
func MessageCleaner(store Store) Cleaner {
	return CleanerFunc{Label: "archive", Fn: store.CleanMessages}
}

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	// Schedule is a five-field cron expression or a descriptor such as "@every 1h".
	Schedule  string
	Retention time.Duration
	Logger    zerolog.Logger
}

// Janitor runs cleaners on a cron schedule.
type Janitor struct {
	cfg      JanitorConfig
	cleaners []Cleaner
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewJanitor validates the schedule and builds a janitor.
func NewJanitor(cfg JanitorConfig, cleaners ...Cleaner) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultJanitorSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if len(cleaners) == 0 {
		return nil, fmt.Errorf("at least one cleaner is required")
	}
	if _, err := scheduleParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	return &Janitor{
		cfg:      cfg,
		cleaners: cleaners,
		cron:     cron.New(cron.WithParser(scheduleParser)),
	}, nil
}

// RunOnce runs every cleaner and returns the deleted counts by cleaner name.
// A failing cleaner does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(j.cleaners))
	for _, c := range j.cleaners {
		n, err := c.Clean(ctx, j.cfg.Retention)
		if err != nil {
			j.cfg.Logger.Error().Err(err).Str("cleaner", c.Name()).Msg("Cleanup failed")
			continue
		}
		counts[c.Name()] = n
	}
	j.cfg.Logger.Info().
		Interface("deleted", counts).
		Dur("retention", j.cfg.Retention).
		Msg("Cleanup finished")
	return counts
}

// Start schedules RunOnce until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	if _, err := j.cron.AddFunc(j.cfg.Schedule, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	j.cron.Start()
	j.running = true

	go func() {
		<-ctx.Done()
		j.Stop()
	}()

	j.cfg.Logger.Info().Str("schedule", j.cfg.Schedule).Msg("Janitor started")
	return nil
}

// Stop halts the schedule and waits for a running cleanup.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.cfg.Logger.Info().Msg("Janitor stopped")
}

// Next returns the next scheduled run after t.
func (j *Janitor) Next(t time.Time) time.Time {
	sched, _ := scheduleParser.Parse(j.cfg.Schedule)
	return sched.Next(t)
}
