package main

import (
	"context"
	"flag"
	"log"

	"rewardbot/internal/config"
	"rewardbot/internal/fetch"
	"rewardbot/internal/integrations/llm"
	"rewardbot/internal/integrations/slack"
	"rewardbot/internal/report"
	"rewardbot/internal/scoring"
	"rewardbot/internal/watch"
)

func main() {
	issueURL := flag.String("issue", "", "GitHub issue URL to score")
	watchMode := flag.Bool("watch", false, "score freshly closed issues on the configured schedule")
	flag.Parse()

	cfg := config.LoadConfig()

	gh := fetch.NewClient(cfg)
	notifier := slack.NewNotifier(cfg.SlackWebhookURL)

	pipeline := scoring.NewPipeline(
		scoring.NewFormattingEvaluator(cfg),
		scoring.NewContentEvaluator(cfg, llm.NewClient(cfg)),
		report.NewGithubCommentModule(cfg, gh, notifier),
	)

	runIssue := func(ctx context.Context, ref fetch.IssueRef) error {
		activity, err := gh.FetchActivity(ctx, ref)
		if err != nil {
			return err
		}
		ledger, err := pipeline.Run(ctx, activity)
		if err != nil {
			notifier.RunFailure(activity.Issue.HTMLURL, err)
			return err
		}
		for _, login := range ledger.Logins() {
			entry, _ := ledger.Get(login)
			log.Printf("reward user=%s total=%s comments=%d", login, entry.Total.String(), len(entry.Comments))
		}
		notifier.RunSummary(activity.Issue.HTMLURL, ledger)
		return nil
	}

	if *watchMode {
		if cfg.WatchSchedule == "" || len(cfg.WatchRepos) == 0 {
			log.Fatalf("watch mode requires watch_schedule and watch_repos")
		}
		watcher := watch.New(gh, cfg.WatchRepos, runIssue)
		if _, err := watcher.Start(cfg.WatchSchedule); err != nil {
			log.Fatalf("Failed to start watch mode: %v", err)
		}
		select {}
	}

	if *issueURL == "" {
		log.Fatalf("either -issue <url> or -watch is required")
	}
	owner, repo, number, err := fetch.ParseIssueURL(*issueURL)
	if err != nil {
		log.Fatalf("Invalid issue url: %v", err)
	}
	if err := runIssue(context.Background(), fetch.IssueRef{Owner: owner, Repo: repo, Number: number}); err != nil {
		log.Fatalf("Scoring run failed: %v", err)
	}
}
