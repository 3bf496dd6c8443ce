package watch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rewardbot/internal/fetch"
)

// Runner scores one issue end to end.
type Runner func(ctx context.Context, ref fetch.IssueRef) error

// Watcher periodically scans the configured repositories for freshly closed
// issues and runs the scoring pipeline once per issue. Dedup is in-memory
// only; a restart may re-score issues closed since the last tick.
type Watcher struct {
	client *fetch.Client
	repos  []string
	run    Runner

	mu       sync.Mutex
	seen     map[string]bool
	lastScan time.Time
}

func New(client *fetch.Client, repos []string, run Runner) *Watcher {
	return &Watcher{
		client:   client,
		repos:    repos,
		run:      run,
		seen:     make(map[string]bool),
		lastScan: time.Now(),
	}
}

// Start schedules ticks according to the cron expression and returns the
// running scheduler.
func (w *Watcher) Start(schedule string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, w.Tick); err != nil {
		return nil, fmt.Errorf("invalid watch_schedule '%s': %w", schedule, err)
	}
	c.Start()
	log.Printf("watch started schedule=%q repos=%d", schedule, len(w.repos))
	return c, nil
}

// Tick scans every repository once.
func (w *Watcher) Tick() {
	w.mu.Lock()
	since := w.lastScan
	w.lastScan = time.Now()
	w.mu.Unlock()

	ctx := context.Background()
	for _, repo := range w.repos {
		refs, err := w.client.SearchClosedIssues(ctx, repo, since)
		if err != nil {
			log.Printf("watch scan error repo=%s err=%v", repo, err)
			continue
		}
		log.Printf("watch scan repo=%s closed=%d", repo, len(refs))
		for _, ref := range refs {
			key := fmt.Sprintf("%s/%s#%d", ref.Owner, ref.Repo, ref.Number)
			w.mu.Lock()
			done := w.seen[key]
			if !done {
				w.seen[key] = true
			}
			w.mu.Unlock()
			if done {
				continue
			}
			if err := w.run(ctx, ref); err != nil {
				log.Printf("watch run error issue=%s err=%v", key, err)
			}
		}
	}
}
