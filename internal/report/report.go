package report

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rewardbot/internal/config"
	"rewardbot/internal/domain"
	"rewardbot/internal/fetch"
)

// Poster delivers the combined report to the hosting platform.
type Poster interface {
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error
}

// Notifier surfaces delivery failures to the operator.
type Notifier interface {
	DeliveryFailure(issueURL string, err error)
}

// GithubCommentModule renders one self-contained report fragment per
// contributor onto the ledger and posts the combined report as an issue
// comment. Delivery failure does not invalidate the ledger.
type GithubCommentModule struct {
	cfg      config.GithubComment
	poster   Poster
	notifier Notifier
}

func NewGithubCommentModule(cfg config.Config, poster Poster, notifier Notifier) *GithubCommentModule {
	return &GithubCommentModule{
		cfg:      cfg.Incentives.GithubComment,
		poster:   poster,
		notifier: notifier,
	}
}

func (m *GithubCommentModule) Name() string { return "github-comment" }

func (m *GithubCommentModule) Enabled() bool {
	if err := m.cfg.Validate(); err != nil {
		log.Printf("github-comment config invalid, disabling: %v", err)
		return false
	}
	return m.cfg.Enabled
}

func (m *GithubCommentModule) Transform(ctx context.Context, activity *domain.Activity, ledger *domain.Ledger) error {
	var body strings.Builder
	for _, login := range ledger.Logins() {
		entry, _ := ledger.Get(login)
		entry.ReportFragment = RenderFragment(login, entry)
		body.WriteString(entry.ReportFragment)
	}

	if m.cfg.DebugFile != "" {
		if err := os.WriteFile(m.cfg.DebugFile, []byte(body.String()), 0644); err != nil {
			log.Printf("report debug write failed path=%s err=%v", m.cfg.DebugFile, err)
		}
	}

	if !m.cfg.Post || activity.Issue == nil {
		return nil
	}
	owner, repo, number, err := fetch.ParseIssueURL(activity.Issue.HTMLURL)
	if err != nil {
		log.Printf("report delivery skipped, unparseable issue url=%s err=%v", activity.Issue.HTMLURL, err)
		return nil
	}
	if err := m.poster.CreateIssueComment(ctx, owner, repo, number, body.String()); err != nil {
		// The ledger stays valid; delivery is retried by the operator.
		log.Printf("report delivery failed issue=%s err=%v", activity.Issue.HTMLURL, err)
		if m.notifier != nil {
			m.notifier.DeliveryFailure(activity.Issue.HTMLURL, err)
		}
	}
	return nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// RenderFragment builds one contributor's collapsible report block: a
// contributions overview table and a per-comment incentives table.
func RenderFragment(login string, entry *domain.ContributorResult) string {
	var task *domain.CommentScore
	var issueComments, reviewComments []*domain.CommentScore
	for _, cs := range entry.Comments {
		switch {
		case cs.Comment.Roles.Has(domain.RoleIssue) && cs.Comment.Roles.Has(domain.RoleTask):
			task = cs
		case cs.Comment.Roles.Has(domain.RoleIssue):
			issueComments = append(issueComments, cs)
		case cs.Comment.Roles.Has(domain.RoleReview):
			reviewComments = append(reviewComments, cs)
		}
	}

	var b strings.Builder
	b.WriteString("<details><summary><b><h3>")
	if entry.PermitURL != "" {
		fmt.Fprintf(&b, `<a href="%s" target="_blank" rel="noopener">[ %s ]</a>`, entry.PermitURL, totalLabel(entry))
	} else {
		fmt.Fprintf(&b, "[ %s ]", totalLabel(entry))
	}
	fmt.Fprintf(&b, "</h3><h6>@%s</h6></b></summary>", login)

	b.WriteString("<h6>Contributions Overview</h6><table><thead>")
	b.WriteString("<tr><th>View</th><th>Contribution</th><th>Count</th><th>Reward</th></tr>")
	b.WriteString("</thead><tbody>")
	if entry.Task != nil {
		writeContributionRow(&b, "Issue", "Task", 1, entry.Task.Reward)
	}
	if task != nil {
		writeContributionRow(&b, "Issue", "Specification", 1, task.Score.Reward)
	}
	if len(issueComments) > 0 {
		writeContributionRow(&b, "Issue", "Comment", len(issueComments), sumRewards(issueComments))
	}
	if len(reviewComments) > 0 {
		writeContributionRow(&b, "Review", "Comment", len(reviewComments), sumRewards(reviewComments))
	}
	b.WriteString("</tbody></table>")

	b.WriteString("<h6>Conversation Incentives</h6><table><thead>")
	b.WriteString("<tr><th>Comment</th><th>Formatting</th><th>Relevance</th><th>Reward</th></tr>")
	b.WriteString("</thead><tbody>")
	for _, cs := range issueComments {
		writeIncentiveRow(&b, cs)
	}
	for _, cs := range reviewComments {
		writeIncentiveRow(&b, cs)
	}
	b.WriteString("</tbody></table></details>")

	return strings.TrimSpace(whitespaceRun.ReplaceAllString(b.String(), " "))
}

func totalLabel(entry *domain.ContributorResult) string {
	if entry.Task != nil && entry.Task.Currency != "" {
		return entry.Total.String() + " " + entry.Task.Currency
	}
	return entry.Total.String()
}

func writeContributionRow(b *strings.Builder, view, contribution string, count int, reward decimal.Decimal) {
	fmt.Fprintf(b, "<tr><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>",
		view, contribution, count, rewardLabel(reward))
}

func writeIncentiveRow(b *strings.Builder, cs *domain.CommentScore) {
	fmt.Fprintf(b, `<tr><td><h6><a href="%s" target="_blank" rel="noopener">%s</a></h6></td>`,
		cs.Comment.HTMLURL, contentPreview(cs.Comment.Body))
	fmt.Fprintf(b, "<td><details><summary>%s</summary><pre>%s</pre></details></td>",
		formattingSummary(cs.Score.Formatting), formattingDump(cs.Score.Formatting))
	fmt.Fprintf(b, "<td>%s</td><td>%s</td></tr>", relevanceLabel(cs.Score.Relevance), rewardLabel(cs.Score.Reward))
}

func sumRewards(comments []*domain.CommentScore) decimal.Decimal {
	total := decimal.Zero
	for _, cs := range comments {
		total = total.Add(cs.Score.Reward)
	}
	return total
}

func rewardLabel(reward decimal.Decimal) string {
	if reward.IsZero() {
		return "-"
	}
	return reward.String()
}

func relevanceLabel(relevance *float64) string {
	if relevance == nil {
		return "-"
	}
	return strconv.FormatFloat(*relevance, 'f', -1, 64)
}

// formattingSummary totals the raw tag score x word count products, before
// any role multiplier.
func formattingSummary(formatting *domain.FormattingScore) string {
	if formatting == nil {
		return "-"
	}
	total := decimal.Zero
	for _, stat := range formatting.Breakdown {
		total = total.Add(decimal.NewFromFloat(stat.Score).Mul(decimal.NewFromInt(int64(stat.Count))))
	}
	return total.String()
}

func formattingDump(formatting *domain.FormattingScore) string {
	if formatting == nil || len(formatting.Breakdown) == 0 {
		return ""
	}
	dump := make(map[string]struct {
		Count int     `yaml:"count"`
		Score float64 `yaml:"score"`
	}, len(formatting.Breakdown))
	for tag, stat := range formatting.Breakdown {
		dump[tag] = struct {
			Count int     `yaml:"count"`
			Score float64 `yaml:"score"`
		}{Count: stat.Count, Score: stat.Score}
	}
	encoded, err := yaml.Marshal(dump)
	if err != nil {
		return ""
	}
	// Keep line breaks inside <pre> after the whitespace collapse.
	return strings.ReplaceAll(strings.TrimSpace(string(encoded)), "\n", "&#13;")
}

// contentPreview sanitizes embedded markup and keeps the first 64 characters.
func contentPreview(body string) string {
	sanitized := strings.ReplaceAll(body, "<", "&lt;")
	sanitized = strings.ReplaceAll(sanitized, ">", "&gt;")
	runes := []rune(sanitized)
	if len(runes) > 65 {
		return string(runes[:64]) + "&hellip;"
	}
	return sanitized
}
