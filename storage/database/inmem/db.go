package inmemdb

import (
	"sync"

	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
)

// DB is an in-memory store with the same transactional guarantees the SQL
// backend provides: every mutation runs under one lock, so concurrent votes
// serialize and no increment is lost.
type DB struct {
	sync.RWMutex

	voters         map[string]*voter.Voter
	questions      map[string]*poll.Question
	choices        map[string]*poll.Choice
	participations map[string]*poll.Participation

	maxQuestionNumber int
}

func Open() (*DB, error) {
	db := &DB{
		voters:         make(map[string]*voter.Voter),
		questions:      make(map[string]*poll.Question),
		choices:        make(map[string]*poll.Choice),
		participations: make(map[string]*poll.Participation),
	}
	return db, nil
}
