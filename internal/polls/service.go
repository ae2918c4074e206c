// Package polls implements poll creation and vote admission.
package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollrooms/backend/internal/models"
	"github.com/pollrooms/backend/internal/ratelimit"
	"github.com/pollrooms/backend/internal/store"
)

const minQuestionLen = 5

// ID lengths mirror the share-link format: short enough to paste, long
// enough to not collide at this scale.
const (
	pollIDLen   = 10
	optionIDLen = 12
	voteIDLen   = 14
)

// ErrRateLimited is returned when an address exceeds its poll creation window.
var ErrRateLimited = errors.New("too many polls created from this address")

// ValidationError reports malformed poll creation input. The message is
// safe to surface to clients.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Store is the subset of the poll store the service needs.
type Store interface {
	FindPoll(ctx context.Context, id string) (*models.Poll, error)
	ListOptions(ctx context.Context, pollID string) ([]models.Option, error)
	BuildSnapshot(ctx context.Context, pollID string) (*models.PollSnapshot, error)
	InsertPoll(ctx context.Context, p *models.Poll, options []models.Option) error
	InsertVote(ctx context.Context, v *models.Vote) error
}

// Notifier receives exactly one notification per accepted vote.
type Notifier interface {
	Notify(pollID string)
}

// Service validates poll creation, admits votes, and triggers broadcasts.
type Service struct {
	store    Store
	limiter  ratelimit.Limiter
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates the poll service.
func NewService(st Store, limiter ratelimit.Limiter, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, limiter: limiter, notifier: notifier, logger: logger}
}

// CreatePoll validates and stores a new poll. Options are trimmed,
// empties discarded, and deduplicated case-insensitively keeping the
// first occurrence's casing and position. The creator address is held
// to the rate window before anything is written.
func (s *Service) CreatePoll(ctx context.Context, question string, options []string, creatorAddr string) (*models.Poll, error) {
	question = strings.TrimSpace(question)
	if utf8.RuneCountInString(question) < minQuestionLen {
		return nil, &ValidationError{Msg: fmt.Sprintf("question must be at least %d characters", minQuestionLen)}
	}

	labels := dedupeOptions(options)
	if len(labels) < 2 {
		return nil, &ValidationError{Msg: "at least 2 unique options are required"}
	}

	ok, err := s.limiter.Allow(ctx, creatorAddr)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !ok {
		return nil, ErrRateLimited
	}

	poll := &models.Poll{
		ID:          shortID(pollIDLen),
		Question:    question,
		CreatedAt:   time.Now().UTC(),
		CreatorAddr: creatorAddr,
	}
	opts := make([]models.Option, 0, len(labels))
	for i, label := range labels {
		opts = append(opts, models.Option{
			ID:        shortID(optionIDLen),
			PollID:    poll.ID,
			Label:     label,
			SortOrder: i,
		})
	}
	if err := s.store.InsertPoll(ctx, poll, opts); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}

	s.logger.Info("poll created",
		zap.String("poll_id", poll.ID),
		zap.Int("options", len(opts)),
		zap.String("creator", creatorAddr),
	)
	return poll, nil
}

// GetSnapshot returns the current consistent view of a poll.
func (s *Service) GetSnapshot(ctx context.Context, pollID string) (*models.PollSnapshot, error) {
	return s.store.BuildSnapshot(ctx, pollID)
}

// SubmitVote admits at most one vote per voter token and per network
// address for a poll. Gates in order: the poll must exist
// (store.ErrPollNotFound), the option must belong to it
// (store.ErrOptionNotFound), and the insert must clear both uniqueness
// constraints (store.ErrDuplicateVoter / store.ErrDuplicateAddress).
// Exactly one broadcast notification fires on success, none otherwise.
func (s *Service) SubmitVote(ctx context.Context, pollID, optionID, voterToken, addr string) error {
	if _, err := s.store.FindPoll(ctx, pollID); err != nil {
		return err
	}

	options, err := s.store.ListOptions(ctx, pollID)
	if err != nil {
		return fmt.Errorf("list options: %w", err)
	}
	valid := false
	for _, o := range options {
		if o.ID == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return store.ErrOptionNotFound
	}

	vote := &models.Vote{
		ID:        shortID(voteIDLen),
		PollID:    pollID,
		OptionID:  optionID,
		VoterID:   voterToken,
		Address:   addr,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertVote(ctx, vote); err != nil {
		return err
	}

	s.logger.Debug("vote accepted", zap.String("poll_id", pollID), zap.String("option_id", optionID))
	s.notifier.Notify(pollID)
	return nil
}

func dedupeOptions(options []string) []string {
	seen := make(map[string]bool, len(options))
	var out []string
	for _, raw := range options {
		label := strings.TrimSpace(raw)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, label)
	}
	return out
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:n]
}
