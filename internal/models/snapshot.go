package models

import "time"

// PollSnapshot is a point-in-time view of a poll and its vote counts.
// It is rebuilt on demand and never cached; TotalVotes always equals the
// sum of the option counts because the store builds it in one
// consistent read. JSON keys match the public API payload.
type PollSnapshot struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	CreatedAt  time.Time     `json:"createdAt"`
	TotalVotes int           `json:"totalVotes"`
	Options    []OptionCount `json:"options"`
}

// OptionCount is one option with its current vote count, ordered by the
// option's sort position. Options with no votes report 0.
type OptionCount struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Votes int    `json:"votes"`
}
