package slack

import (
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"rewardbot/internal/domain"
)

// Notifier posts operator notifications to a Slack incoming webhook. A nil
// Notifier is valid and drops every notification.
type Notifier struct {
	webhookURL string
}

func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{webhookURL: webhookURL}
}

func (n *Notifier) post(text string) {
	if n == nil {
		return
	}
	if err := slack.PostWebhook(n.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		log.Printf("slack notify failed: %v", err)
	}
}

// RunSummary reports per-contributor totals after a completed run.
func (n *Notifier) RunSummary(issueURL string, ledger *domain.Ledger) {
	if n == nil {
		return
	}
	var lines []string
	lines = append(lines, fmt.Sprintf("Rewards computed for %s", issueURL))
	for _, login := range ledger.Logins() {
		entry, _ := ledger.Get(login)
		lines = append(lines, fmt.Sprintf("- %s: %s", login, entry.Total.String()))
	}
	n.post(strings.Join(lines, "\n"))
}

// RunFailure reports an aborted run.
func (n *Notifier) RunFailure(issueURL string, err error) {
	n.post(fmt.Sprintf("Reward run failed for %s: %v", issueURL, err))
}

// DeliveryFailure reports a report that could not be posted back to the
// hosting platform. The computed ledger itself is still valid.
func (n *Notifier) DeliveryFailure(issueURL string, err error) {
	n.post(fmt.Sprintf("Report delivery failed for %s (ledger still valid): %v", issueURL, err))
}
