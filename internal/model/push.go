package model

import "strings"

// Revision is a single commit summary carried by a push
type Revision struct {
	Revision string `json:"revision"`
	Author   string `json:"author"`
	Comments string `json:"comments"`
}

// Push is one CI trigger event. Pushes are immutable once fetched.
type Push struct {
	ID            int        `json:"id"`
	Revision      string     `json:"revision"`
	Author        string     `json:"author"`
	PushTimestamp int64      `json:"push_timestamp"`
	RepositoryID  int        `json:"repository_id,omitempty"`
	RevisionCount int        `json:"revision_count,omitempty"`
	Revisions     []Revision `json:"revisions"`
}

// RevisionTip is the short summary of a push shown in revision pickers
type RevisionTip struct {
	Revision string `json:"revision"`
	Author   string `json:"author"`
	Title    string `json:"title"`
}

// Tip returns the revision tip for this push. The title is the first line of
// the first commit comment.
func (p Push) Tip() RevisionTip {
	title := ""
	if len(p.Revisions) > 0 {
		title, _, _ = strings.Cut(p.Revisions[0].Comments, "\n")
	}
	return RevisionTip{
		Revision: p.Revision,
		Author:   p.Author,
		Title:    title,
	}
}

// PushPage is the body returned by the push-list endpoint
type PushPage struct {
	Results []Push `json:"results"`
}
