package scoring

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"rewardbot/internal/domain"
)

// Module is one scoring stage. Disabled modules are skipped entirely; later
// stages must tolerate the missing contribution.
type Module interface {
	Name() string
	Enabled() bool
	Transform(ctx context.Context, activity *domain.Activity, ledger *domain.Ledger) error
}

// Pipeline threads one ledger through a fixed, declared sequence of stages.
// Each stage runs to full completion before the next starts, so a stage can
// rely on every write of its predecessors being settled.
type Pipeline struct {
	modules []Module
}

func NewPipeline(modules ...Module) *Pipeline {
	return &Pipeline{modules: modules}
}

// Run seeds a fresh ledger from the classified activity and hands it to each
// enabled stage in order. A stage error aborts the run; the partial ledger is
// discarded.
func (p *Pipeline) Run(ctx context.Context, activity *domain.Activity) (*domain.Ledger, error) {
	ledger := domain.NewLedger()
	seedLedger(activity, ledger)

	for _, module := range p.modules {
		if !module.Enabled() {
			log.Printf("pipeline stage=%s skipped (disabled)", module.Name())
			continue
		}
		log.Printf("pipeline stage=%s contributors=%d", module.Name(), ledger.Len())
		if err := module.Transform(ctx, activity, ledger); err != nil {
			return nil, fmt.Errorf("stage %s: %w", module.Name(), err)
		}
		ledger.RecalcTotals()
	}
	return ledger, nil
}

// seedLedger classifies every comment and groups them by author in first-seen
// order. Minimized (hidden) comments and empty bodies carry no reward and are
// purged up front.
func seedLedger(activity *domain.Activity, ledger *domain.Ledger) {
	for _, comment := range activity.AllComments() {
		if comment.Author.Login == "" {
			continue
		}
		if comment.Minimized {
			log.Printf("pipeline purge minimized comment=%d author=%s", comment.ID, comment.Author.Login)
			continue
		}
		if strings.TrimSpace(comment.Body) == "" {
			continue
		}
		entry := ledger.Entry(comment.Author.Login)
		entry.Comments = append(entry.Comments, &domain.CommentScore{Comment: comment})
	}

	if activity.Issue != nil && activity.Issue.Assignee.Login != "" {
		if reward, ok := taskRewardFromLabels(activity.Issue.Labels); ok {
			ledger.Entry(activity.Issue.Assignee.Login).Task = reward
		}
	}
}

var priceLabelPattern = regexp.MustCompile(`(?i)^price:\s*([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z]+)$`)

func taskRewardFromLabels(labels []string) (*domain.TaskReward, bool) {
	for _, label := range labels {
		match := priceLabelPattern.FindStringSubmatch(strings.TrimSpace(label))
		if match == nil {
			continue
		}
		amount, err := decimal.NewFromString(match[1])
		if err != nil {
			continue
		}
		return &domain.TaskReward{Reward: amount, Currency: strings.ToUpper(match[2])}, true
	}
	return nil, false
}
