package poll

import (
	"context"
	"sync"
)

// VoteResult reports the outcome of a vote-casting transaction. Tallied is
// false when the vote was silently ignored (choice not APPROVED): no tally
// change, no quota consumption, yet the call still succeeds so that review
// state is not leaked to the caller.
type VoteResult struct {
	Tallied bool `json:"-"`
}

// VoteLedger is the capability deciding who may still vote and consuming
// quota as part of the vote-casting transaction. Two interchangeable
// strategies exist: the identity-based participation ledger (durable rows)
// and the anonymous per-session counter. The strategy is selected by
// deployment configuration; the transaction contract is identical.
type VoteLedger interface {
	CastVote(ctx context.Context, q Question, choiceID, voterKey string) (VoteResult, error)
}

// participationLedger enforces the Participation rows: the voter needs an
// allowing row with quota left, and both increments run in the repository's
// single locked transaction.
type participationLedger struct {
	repo Repository
}

var _ VoteLedger = (*participationLedger)(nil)

func NewParticipationLedger(repo Repository) *participationLedger {
	return &participationLedger{repo: repo}
}

func (l *participationLedger) CastVote(ctx context.Context, q Question, choiceID, voterID string) (VoteResult, error) {
	return l.repo.CastVote(ctx, q, choiceID, voterID)
}

// sessionLedger tracks votes cast per (session, question) in process memory
// with no Participation rows and no per-identity state beyond APPROVED
// gating. voterKey is the opaque session identifier.
type sessionLedger struct {
	repo Repository

	mu     sync.Mutex
	counts map[string]int
}

var _ VoteLedger = (*sessionLedger)(nil)

func NewSessionLedger(repo Repository) *sessionLedger {
	return &sessionLedger{
		repo:   repo,
		counts: make(map[string]int),
	}
}

func (l *sessionLedger) key(sessionKey, questionID string) string {
	return sessionKey + "\x00" + questionID
}

func (l *sessionLedger) CastVote(ctx context.Context, q Question, choiceID, sessionKey string) (VoteResult, error) {
	// hold the lock across the increment so concurrent casts from one session
	// cannot exceed the cap
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.key(sessionKey, q.ID)
	if l.counts[key] >= q.VotesPerSession {
		return VoteResult{}, ErrAllVotesUsed
	}

	res, err := l.repo.IncrementChoiceVotes(ctx, q.ID, choiceID)
	if err != nil {
		return VoteResult{}, err
	}
	if res.Tallied {
		l.counts[key]++
	}
	return res, nil
}
