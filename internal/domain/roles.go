package domain

import "strings"

// RoleMask is a bit set describing what a comment is (issue vs. review
// thread) and who wrote it relative to the issue.
type RoleMask int

const (
	RoleReview RoleMask = 1 << iota
	RoleIssue
	RoleAssignee
	RoleIssuer
	RoleCollaborator
	RoleContributor
	// RoleTask marks the issue body itself, scored as a pseudo-comment.
	RoleTask
)

var roleNames = []struct {
	bit  RoleMask
	name string
}{
	{RoleReview, "REVIEW"},
	{RoleIssue, "ISSUE"},
	{RoleAssignee, "ASSIGNEE"},
	{RoleIssuer, "ISSUER"},
	{RoleCollaborator, "COLLABORATOR"},
	{RoleContributor, "CONTRIBUTOR"},
	{RoleTask, "TASK"},
}

func (m RoleMask) Has(bit RoleMask) bool {
	return m&bit != 0
}

func (m RoleMask) String() string {
	var parts []string
	for _, r := range roleNames {
		if m&r.bit != 0 {
			parts = append(parts, r.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "_")
}

// ParseRoles resolves configured role names into one combined mask. Each
// entry may itself be a combined name like "ISSUE_ISSUER". Unknown names
// resolve to zero bits.
func ParseRoles(names []string) RoleMask {
	var mask RoleMask
	for _, name := range names {
		for _, part := range strings.Split(name, "_") {
			part = strings.ToUpper(strings.TrimSpace(part))
			for _, r := range roleNames {
				if r.name == part {
					mask |= r.bit
				}
			}
		}
	}
	return mask
}
