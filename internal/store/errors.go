package store

import "errors"

var (
	// ErrPollNotFound is returned when the referenced poll does not exist.
	ErrPollNotFound = errors.New("poll not found")
	// ErrOptionNotFound is returned when the option does not exist or does
	// not belong to the poll it was submitted against.
	ErrOptionNotFound = errors.New("option not found")
	// ErrDuplicateVoter is returned when a vote violates the
	// one-vote-per-voter-token constraint of a poll.
	ErrDuplicateVoter = errors.New("voter already voted in this poll")
	// ErrDuplicateAddress is returned when a vote violates the
	// one-vote-per-network-address constraint of a poll.
	ErrDuplicateAddress = errors.New("network address already voted in this poll")
)
