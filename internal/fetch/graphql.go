package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) graphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	bodyBytes, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshaling graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/graphql", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing graphql request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading graphql response: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("GitHub GraphQL returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parsing graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		var msgs []string
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("GitHub GraphQL errors: %s", strings.Join(msgs, "; "))
	}
	return json.Unmarshal(envelope.Data, out)
}

const linkedPullsQuery = `query($owner: String!, $repo: String!, $number: Int!) {
  repository(owner: $owner, name: $repo) {
    issue(number: $number) {
      closedByPullRequestsReferences(first: 100, includeClosedPrs: true) {
        nodes {
          number
          merged
          repository {
            name
            owner { login }
          }
        }
      }
    }
  }
}`

// linkedMergedPulls discovers the pull requests that closed the issue,
// keeping merged ones only.
func (c *Client) linkedMergedPulls(ctx context.Context, ref IssueRef) ([]IssueRef, error) {
	var data struct {
		Repository struct {
			Issue struct {
				ClosedByPullRequestsReferences struct {
					Nodes []struct {
						Number     int  `json:"number"`
						Merged     bool `json:"merged"`
						Repository struct {
							Name  string `json:"name"`
							Owner struct {
								Login string `json:"login"`
							} `json:"owner"`
						} `json:"repository"`
					} `json:"nodes"`
				} `json:"closedByPullRequestsReferences"`
			} `json:"issue"`
		} `json:"repository"`
	}
	vars := map[string]any{"owner": ref.Owner, "repo": ref.Repo, "number": ref.Number}
	if err := c.graphQL(ctx, linkedPullsQuery, vars, &data); err != nil {
		return nil, err
	}

	var pulls []IssueRef
	for _, node := range data.Repository.Issue.ClosedByPullRequestsReferences.Nodes {
		if !node.Merged {
			continue
		}
		pulls = append(pulls, IssueRef{
			Owner:  node.Repository.Owner.Login,
			Repo:   node.Repository.Name,
			Number: node.Number,
		})
	}
	return pulls, nil
}

const minimizedQuery = `query($ids: [ID!]!) {
  nodes(ids: $ids) {
    ... on IssueComment {
      id
      isMinimized
    }
  }
}`

// minimizedStatus resolves the collapsed/hidden flag for issue comments,
// which the REST listing does not expose.
func (c *Client) minimizedStatus(ctx context.Context, comments []githubIssueComment) (map[string]bool, error) {
	if len(comments) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(comments))
	for _, cm := range comments {
		ids = append(ids, cm.NodeID)
	}
	var data struct {
		Nodes []struct {
			ID          string `json:"id"`
			IsMinimized bool   `json:"isMinimized"`
		} `json:"nodes"`
	}
	if err := c.graphQL(ctx, minimizedQuery, map[string]any{"ids": ids}, &data); err != nil {
		return nil, err
	}
	minimized := make(map[string]bool, len(data.Nodes))
	for _, node := range data.Nodes {
		minimized[node.ID] = node.IsMinimized
	}
	return minimized, nil
}
