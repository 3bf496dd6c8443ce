package scoring

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"rewardbot/internal/config"
	"rewardbot/internal/domain"
)

type multiplierPair struct {
	formatting decimal.Decimal
	wordValue  decimal.Decimal
}

// FormattingEvaluator renders each comment's markup into an element tree and
// turns weighted per-tag word counts into a provisional, relevance-independent
// reward contribution.
type FormattingEvaluator struct {
	cfg         config.FormattingEvaluator
	configErr   error
	md          goldmark.Markdown
	multipliers map[domain.RoleMask]multiplierPair
}

func NewFormattingEvaluator(cfg config.Config) *FormattingEvaluator {
	section := cfg.Incentives.FormattingEvaluator
	e := &FormattingEvaluator{
		cfg:         section,
		configErr:   section.Validate(),
		md:          goldmark.New(),
		multipliers: make(map[domain.RoleMask]multiplierPair),
	}
	for _, m := range section.Multipliers {
		e.multipliers[domain.ParseRoles(m.Role)] = multiplierPair{
			formatting: decimal.NewFromFloat(m.FormattingMultiplier),
			wordValue:  decimal.NewFromFloat(m.WordValue),
		}
	}
	return e
}

func (e *FormattingEvaluator) Name() string { return "formatting-evaluator" }

func (e *FormattingEvaluator) Enabled() bool {
	if e.configErr != nil {
		log.Printf("formatting-evaluator config invalid, disabling: %v", e.configErr)
		return false
	}
	return e.cfg.Enabled
}

func (e *FormattingEvaluator) Transform(ctx context.Context, activity *domain.Activity, ledger *domain.Ledger) error {
	for _, login := range ledger.Logins() {
		entry, _ := ledger.Get(login)
		for _, cs := range entry.Comments {
			breakdown, err := e.formattingBreakdown(cs.Comment.Body)
			if err != nil {
				return fmt.Errorf("%w: comment %d: %v", ErrRenderFailure, cs.Comment.ID, err)
			}

			// Unconfigured roles get {0,0}, which zeroes their reward.
			pair := e.multipliers[cs.Comment.Roles]

			words := decimal.Zero
			for _, stat := range breakdown {
				words = words.Add(decimal.NewFromFloat(stat.Score).
					Mul(decimal.NewFromInt(int64(stat.Count))).
					Mul(pair.wordValue))
			}
			contribution := words.Mul(pair.formatting)

			cs.Score.Formatting = &domain.FormattingScore{
				Breakdown:  breakdown,
				Multiplier: pair.formatting,
				WordValue:  pair.wordValue,
				Words:      words,
			}
			cs.Score.Reward = cs.Score.Reward.Add(contribution)
		}
		log.Printf("scoring formatting user=%s comments=%d", login, len(entry.Comments))
	}
	return nil
}

// formattingBreakdown renders the markdown body to HTML and accumulates word
// counts per element tag. The tag weight is fixed per tag (default 1), not
// summed across occurrences.
func (e *FormattingEvaluator) formattingBreakdown(body string) (map[string]domain.TagStat, error) {
	var rendered bytes.Buffer
	if err := e.md.Convert([]byte(body), &rendered); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	doc, err := html.Parse(&rendered)
	if err != nil {
		return nil, fmt.Errorf("parsing rendered body: %w", err)
	}
	bodyNode := findBody(doc)
	if bodyNode == nil {
		return nil, fmt.Errorf("rendered body has no document body")
	}

	breakdown := make(map[string]domain.TagStat)
	walkElements(bodyNode, func(n *html.Node) {
		tag := n.Data
		stat := breakdown[tag]
		stat.Count += countWords(textContent(n))
		stat.Score = e.tagScore(tag)
		breakdown[tag] = stat
	})
	return breakdown, nil
}

func (e *FormattingEvaluator) tagScore(tag string) float64 {
	if score, ok := e.cfg.Scores[tag]; ok {
		return score
	}
	return 1
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findBody(child); found != nil {
			return found
		}
	}
	return nil
}

// walkElements visits every element node strictly below root.
func walkElements(root *html.Node, visit func(*html.Node)) {
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode {
			visit(child)
		}
		walkElements(child, visit)
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return b.String()
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
