package domain

import "time"

type User struct {
	ID    int64
	Login string
}

type Issue struct {
	ID                int64
	NodeID            string
	Number            int
	Title             string
	Body              string
	HTMLURL           string
	Author            User
	Assignee          User
	Labels            []string
	AuthorAssociation string
}

type Event struct {
	Name      string
	Actor     User
	CreatedAt time.Time
}

// Comment is one platform-supplied comment. ReviewID is non-zero only for
// pull request review comments, which also carry the diff hunk they address.
type Comment struct {
	ID                int64
	NodeID            string
	Body              string
	HTMLURL           string
	Author            User
	AuthorAssociation string
	DiffHunk          string
	ReviewID          int64
	Minimized         bool
	Roles             RoleMask
}

type ReviewState struct {
	ID          int64
	State       string
	Body        string
	Author      User
	SubmittedAt time.Time
}

// Review holds one linked-and-merged pull request with its review activity.
type Review struct {
	Pull     *Issue
	States   []ReviewState
	Comments []Comment
}

// Activity is the fully aggregated record of one issue: the issue itself,
// its event timeline, its comments, and the reviews of every linked merged
// pull request.
type Activity struct {
	Issue         *Issue
	Events        []Event
	Comments      []Comment
	LinkedReviews []Review
}

// Classify assigns the role mask for a comment given the conversation it
// belongs to. The kind bit comes from the review association; exactly one
// relationship bit is added, in fixed priority order: issuer, then assignee,
// then MEMBER, then CONTRIBUTOR. No match leaves the kind bit alone.
func Classify(c Comment, issuer, assignee User) RoleMask {
	mask := RoleIssue
	if c.ReviewID != 0 {
		mask = RoleReview
	}
	switch {
	case issuer.ID != 0 && c.Author.ID == issuer.ID:
		mask |= RoleIssuer
	case assignee.ID != 0 && c.Author.ID == assignee.ID:
		mask |= RoleAssignee
	case c.AuthorAssociation == "MEMBER":
		mask |= RoleCollaborator
	case c.AuthorAssociation == "CONTRIBUTOR":
		mask |= RoleContributor
	}
	return mask
}

// AllComments flattens the activity into one classified comment list: the
// issue comments, the issue body as a TASK pseudo-comment, and for each
// linked pull request its body plus its review comments. Review comments are
// classified against the pull request they belong to, not the issue.
func (a *Activity) AllComments() []Comment {
	var all []Comment
	for _, c := range a.Comments {
		c.Roles = Classify(c, a.Issue.Author, a.Issue.Assignee)
		all = append(all, c)
	}
	if a.Issue != nil {
		task := Comment{
			ID:                a.Issue.ID,
			NodeID:            a.Issue.NodeID,
			Body:              a.Issue.Body,
			HTMLURL:           a.Issue.HTMLURL,
			Author:            a.Issue.Author,
			AuthorAssociation: a.Issue.AuthorAssociation,
		}
		task.Roles = Classify(task, a.Issue.Author, a.Issue.Assignee) | RoleTask
		all = append(all, task)
	}
	for _, review := range a.LinkedReviews {
		if review.Pull == nil {
			continue
		}
		body := Comment{
			ID:                review.Pull.ID,
			NodeID:            review.Pull.NodeID,
			Body:              review.Pull.Body,
			HTMLURL:           review.Pull.HTMLURL,
			Author:            review.Pull.Author,
			AuthorAssociation: review.Pull.AuthorAssociation,
		}
		body.Roles = Classify(body, review.Pull.Author, review.Pull.Assignee)
		all = append(all, body)
		for _, c := range review.Comments {
			c.Roles = Classify(c, review.Pull.Author, review.Pull.Assignee)
			all = append(all, c)
		}
	}
	return all
}
