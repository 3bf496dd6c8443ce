package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"rewardbot/internal/config"
	"rewardbot/internal/domain"
)

func TestPipelineEndToEnd(t *testing.T) {
	issuer := domain.User{ID: 1, Login: "issuer"}
	contributor := domain.User{ID: 2, Login: "dev"}
	activity := &domain.Activity{
		Issue: &domain.Issue{
			ID:     100,
			Body:   "specification of the work",
			Author: issuer,
		},
		Comments: []domain.Comment{
			{ID: 200, Body: "please clarify the scope", Author: issuer},
			{ID: 300, Body: "one two three four five six seven eight", Author: contributor, AuthorAssociation: "CONTRIBUTOR"},
		},
	}

	cfg := config.Config{Incentives: config.Incentives{
		FormattingEvaluator: config.FormattingEvaluator{
			Enabled: true,
			Multipliers: []config.RoleMultiplier{
				{Role: []string{"ISSUE", "ISSUER"}, FormattingMultiplier: 1, WordValue: 0.5},
				{Role: []string{"ISSUE", "ISSUER", "TASK"}, FormattingMultiplier: 1, WordValue: 1},
				{Role: []string{"ISSUE", "CONTRIBUTOR"}, FormattingMultiplier: 1, WordValue: 1},
			},
		},
		ContentEvaluator: config.ContentEvaluator{
			Enabled: true,
			Multipliers: []config.RelevanceOverride{
				{Role: []string{"ISSUE", "ISSUER"}, Relevance: 1},
				{Role: []string{"ISSUE", "ISSUER", "TASK"}, Relevance: 1},
			},
		},
	}}

	client := &fakeCompleter{response: func(string) string { return `{"300": 0.75}` }}
	content := NewContentEvaluator(cfg, client)
	content.countTokens = func(text string) int { return len(text) / 4 }

	pipeline := NewPipeline(NewFormattingEvaluator(cfg), content)
	ledger, err := pipeline.Run(context.Background(), activity)
	if err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}

	// Contributor: 8 words in a p tag, multiplier {1, 1} -> formatting 8,
	// relevance 0.75 -> reward 6.
	dev, ok := ledger.Get("dev")
	if !ok {
		t.Fatalf("expected a ledger entry for dev")
	}
	if !dev.Comments[0].Score.Reward.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected dev reward 8*0.75=6, got %s", dev.Comments[0].Score.Reward)
	}
	if !dev.Total.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected dev total 6, got %s", dev.Total)
	}

	// Issuer: fixed relevance 1 leaves the formatting contribution alone.
	iss, _ := ledger.Get("issuer")
	for _, cs := range iss.Comments {
		if cs.Score.Relevance == nil || *cs.Score.Relevance != 1 {
			t.Fatalf("expected fixed relevance 1 for issuer comment %d, got %v", cs.Comment.ID, cs.Score.Relevance)
		}
		formatting := cs.Score.Formatting.Words.Mul(cs.Score.Formatting.Multiplier)
		if !cs.Score.Reward.Equal(formatting) {
			t.Fatalf("expected issuer reward to equal the formatting contribution %s, got %s", formatting, cs.Score.Reward)
		}
	}

	// First-seen order: issuer commented first.
	logins := ledger.Logins()
	if logins[0] != "issuer" || logins[1] != "dev" {
		t.Fatalf("expected order [issuer dev], got %v", logins)
	}
}

func TestPipelineSeedSkipsMinimizedAndEmpty(t *testing.T) {
	activity := &domain.Activity{
		Issue: &domain.Issue{ID: 1, Body: "spec", Author: domain.User{ID: 1, Login: "issuer"}},
		Comments: []domain.Comment{
			{ID: 2, Body: "hidden", Author: domain.User{ID: 2, Login: "dev"}, Minimized: true},
			{ID: 3, Body: "   ", Author: domain.User{ID: 2, Login: "dev"}},
			{ID: 4, Body: "kept", Author: domain.User{ID: 2, Login: "dev"}},
		},
	}

	ledger := domain.NewLedger()
	seedLedger(activity, ledger)

	dev, ok := ledger.Get("dev")
	if !ok || len(dev.Comments) != 1 || dev.Comments[0].Comment.ID != 4 {
		t.Fatalf("expected only comment 4 to survive seeding, got %+v", dev)
	}
}

func TestPipelineSeedsTaskReward(t *testing.T) {
	activity := &domain.Activity{
		Issue: &domain.Issue{
			ID:       1,
			Body:     "spec",
			Author:   domain.User{ID: 1, Login: "issuer"},
			Assignee: domain.User{ID: 2, Login: "dev"},
			Labels:   []string{"bug", "Price: 25 USD"},
		},
	}

	ledger := domain.NewLedger()
	seedLedger(activity, ledger)

	dev, ok := ledger.Get("dev")
	if !ok || dev.Task == nil {
		t.Fatalf("expected a task reward for the assignee")
	}
	if !dev.Task.Reward.Equal(decimal.NewFromInt(25)) || dev.Task.Currency != "USD" {
		t.Fatalf("expected 25 USD, got %s %s", dev.Task.Reward, dev.Task.Currency)
	}
}

type stubModule struct {
	name    string
	enabled bool
	calls   int
	err     error
}

func (m *stubModule) Name() string  { return m.name }
func (m *stubModule) Enabled() bool { return m.enabled }
func (m *stubModule) Transform(ctx context.Context, activity *domain.Activity, ledger *domain.Ledger) error {
	m.calls++
	return m.err
}

func TestPipelineSkipsDisabledStages(t *testing.T) {
	disabled := &stubModule{name: "disabled", enabled: false}
	enabled := &stubModule{name: "enabled", enabled: true}

	pipeline := NewPipeline(disabled, enabled)
	activity := &domain.Activity{Issue: &domain.Issue{ID: 1, Body: "spec", Author: domain.User{ID: 1, Login: "issuer"}}}
	if _, err := pipeline.Run(context.Background(), activity); err != nil {
		t.Fatalf("pipeline run failed: %v", err)
	}
	if disabled.calls != 0 {
		t.Fatalf("expected disabled stage to be skipped")
	}
	if enabled.calls != 1 {
		t.Fatalf("expected enabled stage to run once, ran %d times", enabled.calls)
	}
}

func TestPipelineAbortsOnStageError(t *testing.T) {
	boom := errors.New("boom")
	failing := &stubModule{name: "failing", enabled: true, err: boom}
	after := &stubModule{name: "after", enabled: true}

	pipeline := NewPipeline(failing, after)
	activity := &domain.Activity{Issue: &domain.Issue{ID: 1, Body: "spec", Author: domain.User{ID: 1, Login: "issuer"}}}

	ledger, err := pipeline.Run(context.Background(), activity)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the stage error to propagate, got %v", err)
	}
	if ledger != nil {
		t.Fatalf("expected no partial ledger on failure")
	}
	if after.calls != 0 {
		t.Fatalf("expected later stages not to run after a failure")
	}
}

func TestTaskRewardFromLabels(t *testing.T) {
	for _, tc := range []struct {
		label  string
		amount string
		ok     bool
	}{
		{"Price: 25 USD", "25", true},
		{"price: 12.5 usd", "12.5", true},
		{"Price: twelve USD", "", false},
		{"Bounty: 25 USD", "", false},
	} {
		reward, ok := taskRewardFromLabels([]string{tc.label})
		if ok != tc.ok {
			t.Fatalf("label %q: expected ok=%v, got %v", tc.label, tc.ok, ok)
		}
		if !ok {
			continue
		}
		want, _ := decimal.NewFromString(tc.amount)
		if !reward.Reward.Equal(want) {
			t.Fatalf("label %q: expected %s, got %s", tc.label, tc.amount, reward.Reward)
		}
		if reward.Currency != "USD" {
			t.Fatalf("label %q: expected currency USD, got %s", tc.label, reward.Currency)
		}
	}
}
