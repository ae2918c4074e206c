// Package store persists polls, options, and votes in PostgreSQL and
// builds consistent poll snapshots. The two compound unique constraints
// on votes are the source of truth for duplicate-vote rejection.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollrooms/backend/internal/models"
)

// Unique constraint names from the votes table DDL. InsertVote matches
// on these to classify a rejected vote.
const (
	constraintPollVoter   = "votes_poll_voter_key"
	constraintPollAddress = "votes_poll_address_key"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the read
// helpers serve single queries and transactional snapshot builds alike.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL poll store. All mutating operations are
// serialized through a single mutex; write volume is low and the vote
// uniqueness invariants must hold under concurrent submissions.
type Repository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// NewRepository creates a poll store backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindPoll returns a poll by ID, or ErrPollNotFound.
func (r *Repository) FindPoll(ctx context.Context, id string) (*models.Poll, error) {
	return findPoll(ctx, r.pool, id)
}

// ListOptions returns the options of a poll ordered by sort position.
func (r *Repository) ListOptions(ctx context.Context, pollID string) ([]models.Option, error) {
	return listOptions(ctx, r.pool, pollID)
}

// CountVotesByOption returns optionID -> vote count for a poll. Options
// with no votes are present with count 0.
func (r *Repository) CountVotesByOption(ctx context.Context, pollID string) (map[string]int, error) {
	return countVotesByOption(ctx, r.pool, pollID)
}

// BuildSnapshot reads the poll, its options, and the per-option vote
// counts in one repeatable-read transaction, so the returned total
// always equals the sum of the option counts.
func (r *Repository) BuildSnapshot(ctx context.Context, pollID string) (*models.PollSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	poll, err := findPoll(ctx, tx, pollID)
	if err != nil {
		return nil, err
	}
	options, err := listOptions(ctx, tx, pollID)
	if err != nil {
		return nil, err
	}
	counts, err := countVotesByOption(ctx, tx, pollID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	snap := &models.PollSnapshot{
		ID:        poll.ID,
		Question:  poll.Question,
		CreatedAt: poll.CreatedAt,
		Options:   make([]models.OptionCount, 0, len(options)),
	}
	for _, o := range options {
		n := counts[o.ID]
		snap.TotalVotes += n
		snap.Options = append(snap.Options, models.OptionCount{ID: o.ID, Label: o.Label, Votes: n})
	}
	return snap, nil
}

// InsertPoll stores a poll and its options in one transaction.
func (r *Repository) InsertPoll(ctx context.Context, p *models.Poll, options []models.Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert poll tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO polls (id, question, created_at, creator_ip) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Question, p.CreatedAt, p.CreatorAddr)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	for _, o := range options {
		_, err = tx.Exec(ctx,
			`INSERT INTO options (id, poll_id, label, sort_order) VALUES ($1, $2, $3, $4)`,
			o.ID, o.PollID, o.Label, o.SortOrder)
		if err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// InsertVote stores a vote. The insert and the uniqueness checks are one
// atomic statement; a constraint violation is translated into
// ErrDuplicateVoter or ErrDuplicateAddress by constraint name. When the
// database does not identify the constraint the vote is still rejected,
// classified as a duplicate voter.
func (r *Repository) InsertVote(ctx context.Context, v *models.Vote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO votes (id, poll_id, option_id, voter_id, ip_address, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.PollID, v.OptionID, v.VoterID, v.Address, v.CreatedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case constraintPollVoter:
			return ErrDuplicateVoter
		case constraintPollAddress:
			return ErrDuplicateAddress
		default:
			return ErrDuplicateVoter
		}
	}
	return fmt.Errorf("insert vote: %w", err)
}

// CountRecentPollsByCreator returns how many polls an address created
// within the trailing window.
func (r *Repository) CountRecentPollsByCreator(ctx context.Context, addr string, window time.Duration) (int, error) {
	const query = `SELECT COUNT(*) FROM polls WHERE creator_ip = $1 AND created_at > $2`
	var n int
	err := r.pool.QueryRow(ctx, query, addr, time.Now().Add(-window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent polls: %w", err)
	}
	return n, nil
}

func findPoll(ctx context.Context, q querier, id string) (*models.Poll, error) {
	const query = `SELECT id, question, created_at, COALESCE(creator_ip, '') FROM polls WHERE id = $1`
	var p models.Poll
	err := q.QueryRow(ctx, query, id).Scan(&p.ID, &p.Question, &p.CreatedAt, &p.CreatorAddr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find poll: %w", err)
	}
	return &p, nil
}

func listOptions(ctx context.Context, q querier, pollID string) ([]models.Option, error) {
	const query = `SELECT id, poll_id, label, sort_order FROM options WHERE poll_id = $1 ORDER BY sort_order ASC`
	rows, err := q.Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	var options []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Label, &o.SortOrder); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, o)
	}
	return options, rows.Err()
}

func countVotesByOption(ctx context.Context, q querier, pollID string) (map[string]int, error) {
	const query = `
		SELECT o.id, COUNT(v.id)
		FROM options o
		LEFT JOIN votes v ON v.option_id = o.id
		WHERE o.poll_id = $1
		GROUP BY o.id`
	rows, err := q.Query(ctx, query, pollID)
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
