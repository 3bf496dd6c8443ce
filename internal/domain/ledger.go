package domain

import "github.com/shopspring/decimal"

// TagStat accumulates one markup tag inside a comment: total word count
// across occurrences and the configured weight of the tag. The weight is a
// property of the tag, not summed per occurrence.
type TagStat struct {
	Count int
	Score float64
}

// FormattingScore is the formatting stage's output for one comment. Words
// holds the weighted word total (tag score x word count x word value summed
// over tags); multiplied by Multiplier it gives the provisional contribution
// the merge rule later removes and re-adds relevance-weighted.
type FormattingScore struct {
	Breakdown  map[string]TagStat
	Multiplier decimal.Decimal
	WordValue  decimal.Decimal
	Words      decimal.Decimal
}

// Score is appended to by successive pipeline stages. Only Reward is ever
// rewritten, and only by the merge rule.
type Score struct {
	Formatting *FormattingScore
	Relevance  *float64
	Reward     decimal.Decimal
}

type CommentScore struct {
	Comment Comment
	Score   Score
}

type TaskReward struct {
	Reward   decimal.Decimal
	Currency string
}

// ContributorResult aggregates one author's scored comments for the run.
type ContributorResult struct {
	Total          decimal.Decimal
	Task           *TaskReward
	Comments       []*CommentScore
	PermitURL      string
	ReportFragment string
}

// Ledger maps author login to their result, preserving the order in which
// authors were first encountered. It is owned by the pipeline for the
// duration of one run and handed to one stage at a time.
type Ledger struct {
	order   []string
	entries map[string]*ContributorResult
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ContributorResult)}
}

// Entry returns the result for login, creating it on first use.
func (l *Ledger) Entry(login string) *ContributorResult {
	if entry, ok := l.entries[login]; ok {
		return entry
	}
	entry := &ContributorResult{}
	l.entries[login] = entry
	l.order = append(l.order, login)
	return entry
}

func (l *Ledger) Get(login string) (*ContributorResult, bool) {
	entry, ok := l.entries[login]
	return entry, ok
}

// Logins returns the authors in insertion order.
func (l *Ledger) Logins() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Ledger) Len() int {
	return len(l.order)
}

// RecalcTotals recomputes every contributor total as task reward plus the
// sum of comment rewards.
func (l *Ledger) RecalcTotals() {
	for _, entry := range l.entries {
		total := decimal.Zero
		if entry.Task != nil {
			total = total.Add(entry.Task.Reward)
		}
		for _, cs := range entry.Comments {
			total = total.Add(cs.Score.Reward)
		}
		entry.Total = total
	}
}
