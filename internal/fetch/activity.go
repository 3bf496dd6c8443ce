package fetch

import (
	"context"
	"fmt"
	"log"
	"time"

	"rewardbot/internal/domain"
)

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type githubLabel struct {
	Name string `json:"name"`
}

type githubIssueItem struct {
	ID                int64         `json:"id"`
	NodeID            string        `json:"node_id"`
	Number            int           `json:"number"`
	Title             string        `json:"title"`
	Body              string        `json:"body"`
	HTMLURL           string        `json:"html_url"`
	User              githubUser    `json:"user"`
	Assignee          *githubUser   `json:"assignee"`
	Labels            []githubLabel `json:"labels"`
	AuthorAssociation string        `json:"author_association"`
}

type githubIssueComment struct {
	ID                int64      `json:"id"`
	NodeID            string     `json:"node_id"`
	Body              string     `json:"body"`
	HTMLURL           string     `json:"html_url"`
	User              githubUser `json:"user"`
	AuthorAssociation string     `json:"author_association"`
}

type githubIssueEvent struct {
	Event     string     `json:"event"`
	Actor     githubUser `json:"actor"`
	CreatedAt string     `json:"created_at"`
}

type githubReview struct {
	ID          int64      `json:"id"`
	State       string     `json:"state"`
	Body        string     `json:"body"`
	User        githubUser `json:"user"`
	SubmittedAt string     `json:"submitted_at"`
}

type githubReviewComment struct {
	ID                  int64      `json:"id"`
	NodeID              string     `json:"node_id"`
	Body                string     `json:"body"`
	DiffHunk            string     `json:"diff_hunk"`
	HTMLURL             string     `json:"html_url"`
	User                githubUser `json:"user"`
	AuthorAssociation   string     `json:"author_association"`
	PullRequestReviewID int64      `json:"pull_request_review_id"`
}

// FetchActivity aggregates everything the scoring pipeline consumes for one
// issue: the issue, its event timeline, its comments with minimized flags,
// and the reviews of every linked-and-merged pull request.
func (c *Client) FetchActivity(ctx context.Context, ref IssueRef) (*domain.Activity, error) {
	base := fmt.Sprintf("/repos/%s/%s/issues/%d", ref.Owner, ref.Repo, ref.Number)

	var issue githubIssueItem
	if err := c.getJSON(ctx, base, &issue); err != nil {
		return nil, fmt.Errorf("fetching issue: %w", err)
	}

	events, err := paginated[githubIssueEvent](ctx, c, base+"/events")
	if err != nil {
		return nil, fmt.Errorf("fetching issue events: %w", err)
	}

	comments, err := paginated[githubIssueComment](ctx, c, base+"/comments")
	if err != nil {
		return nil, fmt.Errorf("fetching issue comments: %w", err)
	}

	minimized, err := c.minimizedStatus(ctx, comments)
	if err != nil {
		return nil, fmt.Errorf("fetching minimized status: %w", err)
	}

	pulls, err := c.linkedMergedPulls(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("collecting linked pulls: %w", err)
	}

	activity := &domain.Activity{Issue: convertIssue(issue)}
	for _, e := range events {
		createdAt, _ := time.Parse(time.RFC3339, e.CreatedAt)
		activity.Events = append(activity.Events, domain.Event{
			Name:      e.Event,
			Actor:     domain.User{ID: e.Actor.ID, Login: e.Actor.Login},
			CreatedAt: createdAt,
		})
	}
	for _, cm := range comments {
		activity.Comments = append(activity.Comments, domain.Comment{
			ID:                cm.ID,
			NodeID:            cm.NodeID,
			Body:              cm.Body,
			HTMLURL:           cm.HTMLURL,
			Author:            domain.User{ID: cm.User.ID, Login: cm.User.Login},
			AuthorAssociation: cm.AuthorAssociation,
			Minimized:         minimized[cm.NodeID],
		})
	}

	for _, pull := range pulls {
		review, err := c.fetchReview(ctx, pull)
		if err != nil {
			return nil, err
		}
		activity.LinkedReviews = append(activity.LinkedReviews, *review)
	}

	log.Printf("fetch activity issue=%s/%s#%d comments=%d events=%d linked_pulls=%d",
		ref.Owner, ref.Repo, ref.Number, len(activity.Comments), len(activity.Events), len(activity.LinkedReviews))
	return activity, nil
}

func (c *Client) fetchReview(ctx context.Context, ref IssueRef) (*domain.Review, error) {
	base := fmt.Sprintf("/repos/%s/%s/pulls/%d", ref.Owner, ref.Repo, ref.Number)

	var pull githubIssueItem
	if err := c.getJSON(ctx, base, &pull); err != nil {
		return nil, fmt.Errorf("fetching pull #%d: %w", ref.Number, err)
	}
	states, err := paginated[githubReview](ctx, c, base+"/reviews")
	if err != nil {
		return nil, fmt.Errorf("fetching reviews for pull #%d: %w", ref.Number, err)
	}
	comments, err := paginated[githubReviewComment](ctx, c, base+"/comments")
	if err != nil {
		return nil, fmt.Errorf("fetching review comments for pull #%d: %w", ref.Number, err)
	}

	review := &domain.Review{Pull: convertIssue(pull)}
	for _, s := range states {
		submittedAt, _ := time.Parse(time.RFC3339, s.SubmittedAt)
		review.States = append(review.States, domain.ReviewState{
			ID:          s.ID,
			State:       s.State,
			Body:        s.Body,
			Author:      domain.User{ID: s.User.ID, Login: s.User.Login},
			SubmittedAt: submittedAt,
		})
	}
	for _, rc := range comments {
		review.Comments = append(review.Comments, domain.Comment{
			ID:                rc.ID,
			NodeID:            rc.NodeID,
			Body:              rc.Body,
			HTMLURL:           rc.HTMLURL,
			Author:            domain.User{ID: rc.User.ID, Login: rc.User.Login},
			AuthorAssociation: rc.AuthorAssociation,
			DiffHunk:          rc.DiffHunk,
			ReviewID:          rc.PullRequestReviewID,
		})
	}
	return review, nil
}

func convertIssue(item githubIssueItem) *domain.Issue {
	issue := &domain.Issue{
		ID:                item.ID,
		NodeID:            item.NodeID,
		Number:            item.Number,
		Title:             item.Title,
		Body:              item.Body,
		HTMLURL:           item.HTMLURL,
		Author:            domain.User{ID: item.User.ID, Login: item.User.Login},
		AuthorAssociation: item.AuthorAssociation,
	}
	if item.Assignee != nil {
		issue.Assignee = domain.User{ID: item.Assignee.ID, Login: item.Assignee.Login}
	}
	for _, l := range item.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue
}
