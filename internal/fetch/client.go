package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rewardbot/internal/config"
)

// Client talks to the GitHub REST and GraphQL APIs.
type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		token:      cfg.GitHubToken,
		apiURL:     strings.TrimRight(cfg.GitHubAPIURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("GitHub API returned %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response for %s: %w", path, err)
	}
	return nil
}

// paginated fetches every page of a list endpoint, appending raw pages until
// a short page signals the end.
func paginated[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	page := 1
	for {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		var items []T
		if err := c.getJSON(ctx, fmt.Sprintf("%s%sper_page=100&page=%d", path, sep, page), &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < 100 {
			break
		}
		page++
	}
	return all, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return fmt.Errorf("GitHub API returned %d for %s: %s", resp.StatusCode, path, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parsing response for %s: %w", path, err)
		}
	}
	return nil
}

// CreateIssueComment posts one comment on the issue.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	return c.postJSON(ctx, path, map[string]string{"body": body}, nil)
}

type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

type githubSearchResponse struct {
	TotalCount int               `json:"total_count"`
	Items      []githubIssueItem `json:"items"`
}

// SearchClosedIssues finds issues in repo closed at or after since.
func (c *Client) SearchClosedIssues(ctx context.Context, repo string, since time.Time) ([]IssueRef, error) {
	query := fmt.Sprintf("repo:%s type:issue is:closed closed:>=%s", repo, since.UTC().Format("2006-01-02T15:04:05Z"))
	var refs []IssueRef
	page := 1
	for {
		path := fmt.Sprintf("/search/issues?q=%s&per_page=100&page=%d", url.QueryEscape(query), page)
		var result githubSearchResponse
		if err := c.getJSON(ctx, path, &result); err != nil {
			return nil, fmt.Errorf("searching closed issues: %w", err)
		}
		for _, item := range result.Items {
			owner, name, number, err := ParseIssueURL(item.HTMLURL)
			if err != nil {
				continue
			}
			refs = append(refs, IssueRef{Owner: owner, Repo: name, Number: number})
		}
		if len(result.Items) < 100 {
			break
		}
		page++
	}
	return refs, nil
}

// ParseIssueURL splits a GitHub issue (or pull request) web URL into its
// owner, repository and number.
func ParseIssueURL(raw string) (string, string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", 0, fmt.Errorf("parsing issue url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Expected: ["owner", "repo", "issues"|"pull", "123"]
	if len(parts) != 4 || (parts[2] != "issues" && parts[2] != "pull") {
		return "", "", 0, fmt.Errorf("unrecognized issue url: %s", raw)
	}
	var number int
	if _, err := fmt.Sscanf(parts[3], "%d", &number); err != nil {
		return "", "", 0, fmt.Errorf("unrecognized issue number in url %s: %w", raw, err)
	}
	return parts[0], parts[1], number, nil
}
