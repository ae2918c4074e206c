package models

import "time"

// Poll is a question with a fixed set of options, created anonymously.
// Poll IDs are short opaque tokens suitable for share links.
type Poll struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	CreatedAt   time.Time `json:"created_at"`
	CreatorAddr string    `json:"-"`
}

// Option is one answer choice of a poll. SortOrder is assigned at
// creation time (0-based, creation order) and never changes.
type Option struct {
	ID        string `json:"id"`
	PollID    string `json:"poll_id"`
	Label     string `json:"label"`
	SortOrder int    `json:"sort_order"`
}

// Vote is one accepted ballot. Append-only; per poll there is at most
// one vote per voter token and at most one per network address.
type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	OptionID  string    `json:"option_id"`
	VoterID   string    `json:"voter_id"`
	Address   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
