package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/shopspring/decimal"

	"rewardbot/internal/config"
	"rewardbot/internal/domain"
	"rewardbot/internal/integrations/llm"
)

const tokenizerModel = "gpt-4o-2024-08-06"

// Completer submits one scoring prompt and returns the raw completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, llm.Usage, error)
}

type commentToEvaluate struct {
	ID      int64  `json:"id"`
	Comment string `json:"comment"`
}

type reviewCommentToEvaluate struct {
	ID       int64  `json:"id"`
	Comment  string `json:"comment"`
	DiffHunk string `json:"diffHunk,omitempty"`
}

type contextComment struct {
	ID      int64  `json:"id"`
	Comment string `json:"comment"`
	Author  string `json:"author"`
}

// ContentEvaluator scores each comment's topical relevance against the issue
// specification via the external scoring service, then replaces the
// provisional formatting contribution with its relevance-weighted value.
type ContentEvaluator struct {
	cfg             config.ContentEvaluator
	configErr       error
	client          Completer
	maxTokens       int
	fixedRelevances map[domain.RoleMask]float64

	// countTokens sizes the output-token ceiling; replaced in tests.
	countTokens func(string) int
}

func NewContentEvaluator(cfg config.Config, client Completer) *ContentEvaluator {
	section := cfg.Incentives.ContentEvaluator
	maxTokens := cfg.MaxResponseTokens
	if maxTokens < 1 {
		maxTokens = config.DefaultMaxResponseTokens
	}
	e := &ContentEvaluator{
		cfg:             section,
		configErr:       section.Validate(),
		client:          client,
		maxTokens:       maxTokens,
		fixedRelevances: make(map[domain.RoleMask]float64),
		countTokens:     countTokens,
	}
	for _, m := range section.Multipliers {
		e.fixedRelevances[domain.ParseRoles(m.Role)] = m.Relevance
	}
	return e
}

func (e *ContentEvaluator) Name() string { return "content-evaluator" }

func (e *ContentEvaluator) Enabled() bool {
	if e.configErr != nil {
		log.Printf("content-evaluator config invalid, disabling: %v", e.configErr)
		return false
	}
	return e.cfg.Enabled
}

func (e *ContentEvaluator) Transform(ctx context.Context, activity *domain.Activity, ledger *domain.Ledger) error {
	if activity.Issue == nil {
		return fmt.Errorf("activity has no issue")
	}
	specification := activity.Issue.Body
	if specification == "" {
		// Nothing to judge relevance against. Formatting rewards stand as-is.
		log.Printf("content-evaluator skipped, issue specification body is empty")
		return nil
	}

	var sharedContext []contextComment
	for _, c := range activity.AllComments() {
		if c.Author.Login == "" {
			continue
		}
		sharedContext = append(sharedContext, contextComment{ID: c.ID, Comment: c.Body, Author: c.Author.Login})
	}

	logins := ledger.Logins()
	var wg sync.WaitGroup
	errs := make([]error, len(logins))
	for i, login := range logins {
		entry, _ := ledger.Get(login)
		if len(entry.Comments) == 0 {
			continue
		}
		wg.Add(1)
		go func(idx int, entry *domain.ContributorResult) {
			defer wg.Done()
			errs[idx] = e.scoreContributor(ctx, specification, sharedContext, entry)
		}(i, entry)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("scoring %s: %w", logins[i], err)
		}
	}
	return nil
}

func (e *ContentEvaluator) scoreContributor(ctx context.Context, specification string, sharedContext []contextComment, entry *domain.ContributorResult) error {
	plain, review := e.splitByPrompt(entry.Comments)

	relevances, err := e.evaluate(ctx, specification, sharedContext, plain, review)
	if err != nil {
		return err
	}
	if len(relevances) != len(plain)+len(review) {
		return fmt.Errorf("%w: requested %d, got %d", ErrRelevanceMismatch, len(plain)+len(review), len(relevances))
	}

	for _, cs := range entry.Comments {
		// Full credit for comments with no relevance information of any kind.
		relevance := 1.0
		if fixed, ok := e.fixedRelevances[cs.Comment.Roles]; ok {
			relevance = fixed
		} else if scored, ok := relevances[cs.Comment.ID]; ok {
			relevance = scored
		}
		cs.Score.Reward = mergeReward(cs.Score, relevance)
		cs.Score.Relevance = &relevance
	}
	return nil
}

// mergeReward strips the formatting-only contribution out of the prior
// reward and re-adds it weighted by relevance, preserving anything other
// stages contributed.
func mergeReward(score domain.Score, relevance float64) decimal.Decimal {
	reward := score.Reward
	if score.Formatting != nil {
		contribution := score.Formatting.Words.Mul(score.Formatting.Multiplier)
		weighted := contribution.Mul(decimal.NewFromFloat(relevance))
		reward = reward.Sub(contribution).Add(weighted)
	}
	return reward
}

// splitByPrompt partitions a contributor's comments for scoring: fixed
// relevance roles are excluded entirely, review-thread comments go to the
// code-review prompt, the rest to the plain prompt.
func (e *ContentEvaluator) splitByPrompt(comments []*domain.CommentScore) ([]commentToEvaluate, []reviewCommentToEvaluate) {
	var plain []commentToEvaluate
	var review []reviewCommentToEvaluate
	for _, cs := range comments {
		if _, ok := e.fixedRelevances[cs.Comment.Roles]; ok {
			continue
		}
		if cs.Comment.Roles.Has(domain.RoleReview) {
			review = append(review, reviewCommentToEvaluate{
				ID:       cs.Comment.ID,
				Comment:  cs.Comment.Body,
				DiffHunk: cs.Comment.DiffHunk,
			})
		} else {
			plain = append(plain, commentToEvaluate{ID: cs.Comment.ID, Comment: cs.Comment.Body})
		}
	}
	return plain, review
}

// evaluate submits one prompt per non-empty partition. The two submissions
// are dispatched concurrently and awaited jointly; their results are merged
// into one relevance-by-id map.
func (e *ContentEvaluator) evaluate(ctx context.Context, specification string, sharedContext []contextComment, plain []commentToEvaluate, review []reviewCommentToEvaluate) (map[int64]float64, error) {
	var wg sync.WaitGroup
	var plainRelevances, reviewRelevances map[int64]float64
	var plainErr, reviewErr error

	if len(plain) > 0 {
		prompt, ids, err := e.plainPrompt(specification, sharedContext, plain)
		if err != nil {
			return nil, err
		}
		maxTokens, err := e.responseTokenCeiling(idsOf(plain))
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			plainRelevances, plainErr = e.submit(ctx, prompt, maxTokens, ids)
		}()
	}
	if len(review) > 0 {
		prompt, ids, err := e.reviewPrompt(specification, review)
		if err != nil {
			return nil, err
		}
		maxTokens, err := e.responseTokenCeiling(idsOfReview(review))
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reviewRelevances, reviewErr = e.submit(ctx, prompt, maxTokens, ids)
		}()
	}
	wg.Wait()

	if plainErr != nil {
		return nil, plainErr
	}
	if reviewErr != nil {
		return nil, reviewErr
	}

	merged := make(map[int64]float64, len(plainRelevances)+len(reviewRelevances))
	for id, relevance := range plainRelevances {
		merged[id] = relevance
	}
	for id, relevance := range reviewRelevances {
		merged[id] = relevance
	}
	return merged, nil
}

func idsOf(comments []commentToEvaluate) []int64 {
	ids := make([]int64, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	return ids
}

func idsOfReview(comments []reviewCommentToEvaluate) []int64 {
	ids := make([]int64, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	return ids
}

// responseTokenCeiling predicts the output size by tokenizing a placeholder
// response shaped like the real one, clamped to the configured maximum.
func (e *ContentEvaluator) responseTokenCeiling(ids []int64) (int, error) {
	placeholder := make(map[string]float64, len(ids))
	for _, id := range ids {
		placeholder[strconv.FormatInt(id, 10)] = 0.5
	}
	encoded, err := json.MarshalIndent(placeholder, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("building placeholder response: %w", err)
	}
	tokens := e.countTokens(string(encoded))
	if tokens > e.maxTokens {
		tokens = e.maxTokens
	}
	return tokens, nil
}

func countTokens(text string) int {
	enc, err := tiktoken.EncodingForModel(tokenizerModel)
	if err != nil {
		enc, err = tiktoken.GetEncoding("o200k_base")
	}
	if err != nil {
		// Offline fallback, roughly four characters per token.
		return len(text)/4 + 1
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *ContentEvaluator) submit(ctx context.Context, prompt string, maxTokens int, requested []int64) (map[int64]float64, error) {
	responseText, usage, err := e.client.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return nil, err
	}
	log.Printf("scoring relevance requested=%d max_tokens=%d tokens_in=%d tokens_out=%d", len(requested), maxTokens, usage.InputTokens, usage.OutputTokens)
	return parseRelevances(responseText, requested)
}

// parseRelevances decodes the service response as an id-to-relevance map.
// Any decode failure, out-of-range value, or id that was never requested is
// a protocol violation.
func parseRelevances(responseText string, requested []int64) (map[int64]float64, error) {
	var raw map[string]float64
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	requestedSet := make(map[int64]bool, len(requested))
	for _, id := range requested {
		requestedSet[id] = true
	}

	relevances := make(map[int64]float64, len(raw))
	for key, value := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric comment id '%s'", ErrMalformedResponse, key)
		}
		if !requestedSet[id] {
			return nil, fmt.Errorf("%w: unrequested comment id %d", ErrMalformedResponse, id)
		}
		if value < 0 || value > 1 {
			return nil, fmt.Errorf("%w: relevance %f for comment %d outside [0, 1]", ErrMalformedResponse, value, id)
		}
		relevances[id] = value
	}
	return relevances, nil
}

func (e *ContentEvaluator) plainPrompt(specification string, sharedContext []contextComment, comments []commentToEvaluate) (string, []int64, error) {
	contextJSON, err := json.MarshalIndent(sharedContext, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding shared context: %w", err)
	}
	commentsJSON, err := json.MarshalIndent(comments, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding comments: %w", err)
	}
	prompt := fmt.Sprintf(`Instruction:
Start by thoroughly reading all comments and retaining their content for the evaluation.

OUTPUT FORMAT:
Provide a JSON object with the format: {ID: CONNECTION_SCORE} for each record in the evaluation section.
The CONNECTION_SCORE should reflect the average relevance based on all comments, title, and body.

GLOBAL CONTEXT:
Specification
"%s"

ALL COMMENTS:
%s

IMPORTANT CONTEXT:
Consider all comments when evaluating connections. Relevant comments may appear before or after the comment being evaluated, so examine all of them closely.

START EVALUATING:
%s

POST EVALUATION:
Provide only the connection scores as floating-point values indicating the relevance of each comment based on its connection to the overall context.

SCORING CRITERIA:
Assign scores from 0 to 1, 0: Not related (e.g., spam), 1: Highly relevant (e.g., solutions, bugs)
Consider the context of all comments; even minor details may be significant for resolving the issue. If a comment is unrelated to all comments, title, or issue specification, assign a score of 0.

OUTPUT:
Return a JSON object containing the ID and the connection score for each evaluated comment. The number of entries in the JSON response must match exactly %d.
`, specification, contextJSON, commentsJSON, len(comments))
	return prompt, idsOf(comments), nil
}

func (e *ContentEvaluator) reviewPrompt(specification string, comments []reviewCommentToEvaluate) (string, []int64, error) {
	payload, err := json.Marshal(struct {
		Specification string                    `json:"specification"`
		Comments      []reviewCommentToEvaluate `json:"comments"`
	}{Specification: specification, Comments: comments})
	if err != nil {
		return "", nil, fmt.Errorf("encoding review payload: %w", err)
	}
	prompt := fmt.Sprintf(`I need to evaluate the value of a GitHub contributor's comments in a pull request. Some of these comments are code review comments, and some are general suggestions or a part of the discussion. I'm interested in how much each comment helps to solve the GitHub issue and improve code quality. Please provide a float between 0 and 1 to represent the value of each comment. A score of 1 indicates that the comment is very valuable and significantly improves the submitted solution and code quality, whereas a score of 0 indicates a negative or zero impact. A stringified JSON is given below that contains the specification of the GitHub issue, and comments by different contributors. The property "diffHunk" presents the chunk of code being addressed for a possible change in a code review comment.

`+"```"+`
%s
`+"```"+`

To what degree are each of the comments valuable? Please reply with ONLY a JSON where each key is the comment ID given in JSON above, and the value is a float number between 0 and 1 corresponding to the comment. The float number should represent the value of the comment for improving the issue solution and code quality. The total number of properties in your JSON response should equal exactly %d.`, payload, len(comments))
	return prompt, idsOfReview(comments), nil
}
