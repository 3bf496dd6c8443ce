package scoring

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"rewardbot/internal/config"
	"rewardbot/internal/domain"
	"rewardbot/internal/integrations/llm"
)

type fakeCompleter struct {
	mu       sync.Mutex
	prompts  []string
	response func(prompt string) string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, llm.Usage, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.response(prompt), llm.Usage{}, nil
}

func contentConfig(section config.ContentEvaluator) config.Config {
	return config.Config{Incentives: config.Incentives{ContentEvaluator: section}}
}

func newTestEvaluator(section config.ContentEvaluator, client Completer) *ContentEvaluator {
	evaluator := NewContentEvaluator(contentConfig(section), client)
	evaluator.countTokens = func(text string) int { return len(text) / 4 }
	return evaluator
}

func issueActivity() *domain.Activity {
	return &domain.Activity{Issue: &domain.Issue{ID: 1, Body: "specification text", Author: domain.User{ID: 1, Login: "issuer"}}}
}

func addComment(ledger *domain.Ledger, login string, comment domain.Comment, reward int64) *domain.CommentScore {
	entry := ledger.Entry(login)
	cs := &domain.CommentScore{Comment: comment}
	if reward != 0 {
		contribution := decimal.NewFromInt(reward)
		cs.Score.Formatting = &domain.FormattingScore{
			Multiplier: decimal.NewFromInt(1),
			Words:      contribution,
		}
		cs.Score.Reward = contribution
	}
	entry.Comments = append(entry.Comments, cs)
	return cs
}

func TestFixedOverrideBypassesBatch(t *testing.T) {
	client := &fakeCompleter{response: func(string) string { return `{"42": 0.9}` }}
	evaluator := newTestEvaluator(config.ContentEvaluator{
		Enabled: true,
		Multipliers: []config.RelevanceOverride{
			{Role: []string{"ISSUE", "ISSUER"}, Relevance: 0.2},
		},
	}, client)

	ledger := domain.NewLedger()
	fixed := addComment(ledger, "issuer", domain.Comment{
		ID: 7, Body: "issuer words", Roles: domain.RoleIssue | domain.RoleIssuer,
	}, 10)
	addComment(ledger, "dev", domain.Comment{
		ID: 42, Body: "dev words", Roles: domain.RoleIssue | domain.RoleContributor,
	}, 10)

	if err := evaluator.Transform(context.Background(), issueActivity(), ledger); err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	for _, prompt := range client.prompts {
		if strings.Contains(prompt, "issuer words") && strings.Contains(prompt, "START EVALUATING") {
			start := prompt[strings.Index(prompt, "START EVALUATING"):]
			if strings.Contains(start, "issuer words") {
				t.Fatalf("fixed-override comment leaked into an evaluation batch:\n%s", prompt)
			}
		}
	}
	if fixed.Score.Relevance == nil || *fixed.Score.Relevance != 0.2 {
		t.Fatalf("expected fixed relevance 0.2, got %v", fixed.Score.Relevance)
	}
	if !fixed.Score.Reward.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected reward 10*0.2=2, got %s", fixed.Score.Reward)
	}
}

func TestResponseCountMismatchIsFatal(t *testing.T) {
	client := &fakeCompleter{response: func(string) string { return `{"1": 0.5, "2": 0.5}` }}
	evaluator := newTestEvaluator(config.ContentEvaluator{Enabled: true}, client)

	ledger := domain.NewLedger()
	for id := int64(1); id <= 3; id++ {
		addComment(ledger, "dev", domain.Comment{ID: id, Body: "text", Roles: domain.RoleIssue}, 5)
	}

	err := evaluator.Transform(context.Background(), issueActivity(), ledger)
	if !errors.Is(err, ErrRelevanceMismatch) {
		t.Fatalf("expected ErrRelevanceMismatch for 3 requested / 2 returned, got %v", err)
	}
}

func TestMalformedResponseIsFatal(t *testing.T) {
	for _, response := range []string{
		"not json at all",
		`{"1": 1.7}`,        // out of range
		`{"nope": 0.5}`,     // non-numeric id
		`{"99": 0.5}`,       // never requested
	} {
		client := &fakeCompleter{response: func(string) string { return response }}
		evaluator := newTestEvaluator(config.ContentEvaluator{Enabled: true}, client)

		ledger := domain.NewLedger()
		addComment(ledger, "dev", domain.Comment{ID: 1, Body: "text", Roles: domain.RoleIssue}, 5)

		err := evaluator.Transform(context.Background(), issueActivity(), ledger)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("expected ErrMalformedResponse for %q, got %v", response, err)
		}
	}
}

func TestMergeRule(t *testing.T) {
	half := domain.Score{
		Formatting: &domain.FormattingScore{Multiplier: decimal.NewFromInt(1), Words: decimal.NewFromInt(10)},
		Reward:     decimal.NewFromInt(10),
	}
	if got := mergeReward(half, 0.5); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 10*0.5=5, got %s", got)
	}
	if got := mergeReward(half, 1); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected full credit to keep the prior reward, got %s", got)
	}
	if got := mergeReward(half, 0); !got.IsZero() {
		t.Fatalf("expected zero relevance to zero the reward, got %s", got)
	}

	// A reward contributed by another stage is preserved additively.
	withOther := domain.Score{
		Formatting: &domain.FormattingScore{Multiplier: decimal.NewFromInt(1), Words: decimal.NewFromInt(10)},
		Reward:     decimal.NewFromInt(13),
	}
	if got := mergeReward(withOther, 0.5); !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected 13-10+5=8, got %s", got)
	}

	// No formatting information leaves the reward untouched.
	bare := domain.Score{Reward: decimal.NewFromInt(3)}
	if got := mergeReward(bare, 0.5); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected untouched reward 3, got %s", got)
	}
}

func TestEmptySpecificationSkipsRelevanceScoring(t *testing.T) {
	// An issue with no body gives the service nothing to judge against, so
	// the stage steps aside and the formatting rewards stand untouched.
	client := &fakeCompleter{response: func(string) string { return `{}` }}
	evaluator := newTestEvaluator(config.ContentEvaluator{Enabled: true}, client)

	ledger := domain.NewLedger()
	cs := addComment(ledger, "dev", domain.Comment{ID: 1, Body: "text", Roles: domain.RoleIssue}, 10)

	activity := issueActivity()
	activity.Issue.Body = ""

	if err := evaluator.Transform(context.Background(), activity, ledger); err != nil {
		t.Fatalf("empty specification must not abort the run, got %v", err)
	}
	if len(client.prompts) != 0 {
		t.Fatalf("expected no service calls without a specification, got %d", len(client.prompts))
	}
	if !cs.Score.Reward.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected formatting reward preserved, got %s", cs.Score.Reward)
	}
	if cs.Score.Relevance != nil {
		t.Fatalf("expected no relevance recorded, got %v", *cs.Score.Relevance)
	}
}

func TestBothPartitionsScoredAndMerged(t *testing.T) {
	// One prompt per partition; each comment's reward is reweighted by the
	// relevance its own partition returned.
	client := &fakeCompleter{response: func(prompt string) string {
		if strings.Contains(prompt, "diffHunk") {
			return `{"2": 0.4}`
		}
		return `{"1": 0.6}`
	}}
	evaluator := newTestEvaluator(config.ContentEvaluator{Enabled: true}, client)

	ledger := domain.NewLedger()
	plain := addComment(ledger, "dev", domain.Comment{ID: 1, Body: "plain", Roles: domain.RoleIssue}, 10)
	review := addComment(ledger, "dev", domain.Comment{
		ID: 2, Body: "review", Roles: domain.RoleReview, DiffHunk: "@@ -1 +1 @@", ReviewID: 5,
	}, 10)

	if err := evaluator.Transform(context.Background(), issueActivity(), ledger); err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	if !plain.Score.Reward.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected plain reward 6, got %s", plain.Score.Reward)
	}
	if !review.Score.Reward.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected review reward 4, got %s", review.Score.Reward)
	}
	if len(client.prompts) != 2 {
		t.Fatalf("expected one prompt per partition, got %d", len(client.prompts))
	}
}

func TestEmptyPartitionsMakeNoCalls(t *testing.T) {
	client := &fakeCompleter{response: func(string) string { return `{}` }}
	evaluator := newTestEvaluator(config.ContentEvaluator{
		Enabled: true,
		Multipliers: []config.RelevanceOverride{
			{Role: []string{"ISSUE", "ISSUER"}, Relevance: 1},
		},
	}, client)

	ledger := domain.NewLedger()
	addComment(ledger, "issuer", domain.Comment{
		ID: 1, Body: "text", Roles: domain.RoleIssue | domain.RoleIssuer,
	}, 10)

	if err := evaluator.Transform(context.Background(), issueActivity(), ledger); err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(client.prompts) != 0 {
		t.Fatalf("expected no service calls when every comment has a fixed override, got %d", len(client.prompts))
	}
}

func TestContentDisabledOnInvalidConfig(t *testing.T) {
	evaluator := NewContentEvaluator(contentConfig(config.ContentEvaluator{
		Enabled: true,
		Multipliers: []config.RelevanceOverride{
			{Role: []string{"ISSUE"}, Relevance: 1.5},
		},
	}), nil)
	if evaluator.Enabled() {
		t.Fatalf("expected out-of-range fixed relevance to disable the stage")
	}
}

func TestResponseTokenCeilingClamped(t *testing.T) {
	evaluator := newTestEvaluator(config.ContentEvaluator{Enabled: true}, nil)
	evaluator.maxTokens = 10
	evaluator.countTokens = func(string) int { return 50 }

	tokens, err := evaluator.responseTokenCeiling([]int64{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens != 10 {
		t.Fatalf("expected ceiling clamped to 10, got %d", tokens)
	}
}
