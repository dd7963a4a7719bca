package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
)

type pollRepository struct {
	db *DB
}

var _ poll.Repository = (*pollRepository)(nil) // interface compliance check

func NewPollRepository(db *DB) *pollRepository {
	return &pollRepository{db: db}
}

func (repo *pollRepository) CreateQuestion(ctx context.Context, q poll.Question) (poll.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// number assignment serializes under the store lock
	repo.db.maxQuestionNumber++
	q.Number = repo.db.maxQuestionNumber
	q.ID = uuid.New().String()
	repo.db.questions[q.ID] = &q
	return q, nil
}

func (repo *pollRepository) GetQuestion(ctx context.Context, filter poll.GetFilter) (poll.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	switch {
	case filter.ID != "":
		if q, ok := repo.db.questions[filter.ID]; ok {
			return *q, nil
		}
	case filter.Slug != "":
		for _, q := range repo.db.questions {
			if q.Slug == filter.Slug {
				return *q, nil
			}
		}
	case filter.Number != 0:
		for _, q := range repo.db.questions {
			if q.Number == filter.Number {
				return *q, nil
			}
		}
	}
	return poll.Question{}, poll.ErrNotFound
}

func (repo *pollRepository) QueryQuestions(ctx context.Context, filter *poll.QueryFilter, ordering []core.DBOrdering) ([]poll.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	questions := make([]poll.Question, 0, len(repo.db.questions))
	for _, q := range repo.db.questions {
		if filter != nil {
			if filter.Search != "" && !strings.Contains(strings.ToLower(q.Text), strings.ToLower(filter.Search)) {
				continue
			}
			if filter.IsVisible != nil && q.IsVisible != *filter.IsVisible {
				continue
			}
		}
		questions = append(questions, *q)
	}

	sort.Slice(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })
	return questions, nil
}

func (repo *pollRepository) CreateChoice(ctx context.Context, c poll.Choice) (poll.Choice, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.questions[c.QuestionID]; !ok {
		return poll.Choice{}, poll.ErrNotFound
	}
	c.ID = uuid.New().String()
	repo.db.choices[c.ID] = &c
	return c, nil
}

func (repo *pollRepository) GetChoice(ctx context.Context, id string) (poll.Choice, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.choices[id]; ok {
		return *c, nil
	}
	return poll.Choice{}, poll.ErrNotFound
}

func (repo *pollRepository) QueryChoices(ctx context.Context, filter poll.ChoiceFilter, ordering []core.DBOrdering) ([]poll.Choice, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	choices := make([]poll.Choice, 0, len(repo.db.choices))
	for _, c := range repo.db.choices {
		if filter.QuestionID != "" && c.QuestionID != filter.QuestionID {
			continue
		}
		if filter.ReviewStatus != "" && c.ReviewStatus != filter.ReviewStatus {
			continue
		}
		choices = append(choices, *c)
	}

	byVotesDesc := false
	for _, ord := range ordering {
		if ord.Field == "votes" && !ord.Ascending {
			byVotesDesc = true
		}
	}
	if byVotesDesc {
		sort.Slice(choices, func(i, j int) bool { return choices[i].Votes > choices[j].Votes })
	} else {
		sort.Slice(choices, func(i, j int) bool {
			return strings.ToLower(choices[i].Text) < strings.ToLower(choices[j].Text)
		})
	}
	return choices, nil
}

func (repo *pollRepository) SetChoicesReviewStatus(ctx context.Context, ids []string, status, remark string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		c, ok := repo.db.choices[id]
		if !ok {
			continue
		}
		c.ReviewStatus = status
		if remark != "" {
			c.ReviewRemark = remark
		}
		cnt++
	}
	return cnt, nil
}

func (repo *pollRepository) ResetChoicesVotes(ctx context.Context, ids []string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		c, ok := repo.db.choices[id]
		if !ok {
			continue
		}
		c.Votes = 0
		cnt++
	}
	return cnt, nil
}

func (repo *pollRepository) participationFor(voterID, questionID string) *poll.Participation {
	for _, p := range repo.db.participations {
		if p.VoterID == voterID && p.QuestionID == questionID {
			return p
		}
	}
	return nil
}

func (repo *pollRepository) GrantParticipation(ctx context.Context, voterID, questionID string) (poll.Participation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// at most one row per (voter, question) pair
	if p := repo.participationFor(voterID, questionID); p != nil {
		p.IsAllowed = true
		return *p, nil
	}
	p := poll.Participation{
		ID:         uuid.New().String(),
		VoterID:    voterID,
		QuestionID: questionID,
		IsAllowed:  true,
	}
	repo.db.participations[p.ID] = &p
	return p, nil
}

func (repo *pollRepository) GetParticipation(ctx context.Context, voterID, questionID string) (poll.Participation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	p := repo.participationFor(voterID, questionID)
	if p == nil || !p.IsAllowed {
		return poll.Participation{}, poll.ErrNotAllowed
	}
	return *p, nil
}

func (repo *pollRepository) QueryParticipations(ctx context.Context, voterID string) ([]poll.Participation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	participations := make([]poll.Participation, 0)
	for _, p := range repo.db.participations {
		if p.VoterID == voterID && p.IsAllowed {
			participations = append(participations, *p)
		}
	}
	sort.Slice(participations, func(i, j int) bool {
		qi, qj := repo.db.questions[participations[i].QuestionID], repo.db.questions[participations[j].QuestionID]
		if qi == nil || qj == nil {
			return participations[i].QuestionID < participations[j].QuestionID
		}
		return qi.Number < qj.Number
	})
	return participations, nil
}

func (repo *pollRepository) CastVote(ctx context.Context, q poll.Question, choiceID, voterID string) (poll.VoteResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p := repo.participationFor(voterID, q.ID)
	if p == nil || !p.IsAllowed {
		return poll.VoteResult{}, poll.ErrNotAllowed
	}
	if !p.HasQuota(q) {
		return poll.VoteResult{}, poll.ErrAllVotesUsed
	}

	c, ok := repo.db.choices[choiceID]
	if !ok || c.QuestionID != q.ID {
		return poll.VoteResult{}, poll.ErrNotFound
	}
	// a non-approved choice is silently ignored: no tally change, no quota
	// consumption, success reported
	if c.ReviewStatus != poll.ReviewApproved {
		return poll.VoteResult{Tallied: false}, nil
	}

	c.Votes++
	p.VotesCast++
	return poll.VoteResult{Tallied: true}, nil
}

func (repo *pollRepository) IncrementChoiceVotes(ctx context.Context, questionID, choiceID string) (poll.VoteResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.choices[choiceID]
	if !ok || c.QuestionID != questionID {
		return poll.VoteResult{}, poll.ErrNotFound
	}
	if c.ReviewStatus != poll.ReviewApproved {
		return poll.VoteResult{Tallied: false}, nil
	}
	c.Votes++
	return poll.VoteResult{Tallied: true}, nil
}
