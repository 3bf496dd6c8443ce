package slack

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"rewardbot/internal/domain"
)

func TestNewNotifierRequiresURL(t *testing.T) {
	if n := NewNotifier(""); n != nil {
		t.Fatalf("expected nil notifier without a webhook URL")
	}
	if n := NewNotifier("https://hooks.slack.com/services/x"); n == nil {
		t.Fatalf("expected notifier for a configured URL")
	}
}

func TestNilNotifierDropsNotifications(t *testing.T) {
	var n *Notifier
	// Must not panic or make network calls.
	n.RunSummary("https://github.com/acme/widgets/issues/5", domain.NewLedger())
	n.RunFailure("https://github.com/acme/widgets/issues/5", nil)
	n.DeliveryFailure("https://github.com/acme/widgets/issues/5", nil)
}

func TestRunSummaryPostsTotals(t *testing.T) {
	var posted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		posted = msg.Text
	}))
	defer server.Close()

	ledger := domain.NewLedger()
	ledger.Entry("issuer").Total = decimal.NewFromFloat(31.5)
	ledger.Entry("dev").Total = decimal.NewFromInt(6)

	NewNotifier(server.URL).RunSummary("https://github.com/acme/widgets/issues/5", ledger)

	for _, want := range []string{
		"Rewards computed for https://github.com/acme/widgets/issues/5",
		"- issuer: 31.5",
		"- dev: 6",
	} {
		if !strings.Contains(posted, want) {
			t.Fatalf("summary missing %q:\n%s", want, posted)
		}
	}
}
