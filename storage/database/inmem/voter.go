package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/voter"
)

type voterRepository struct {
	db *DB
}

var _ voter.Repository = (*voterRepository)(nil) // interface compliance check

func NewVoterRepository(db *DB) *voterRepository {
	return &voterRepository{db: db}
}

func (repo *voterRepository) CheckUsernameUniqueness(ctx context.Context, username string, excludedVoters ...voter.Voter) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	return repo.checkUsernameUniqueness(username, excludedVoters...)
}

func (repo *voterRepository) checkUsernameUniqueness(username string, excludedVoters ...voter.Voter) error {
	excluded := make(map[string]struct{}, len(excludedVoters))
	for _, v := range excludedVoters {
		excluded[v.ID] = struct{}{}
	}
	for _, v := range repo.db.voters {
		if _, ok := excluded[v.ID]; ok {
			continue
		}
		if v.Username == username {
			return voter.ErrUsernameExists
		}
	}
	return nil
}

func (repo *voterRepository) CreateVoter(ctx context.Context, v voter.Voter) (voter.Voter, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.checkUsernameUniqueness(v.Username); err != nil {
		return voter.Voter{}, err
	}
	v.ID = uuid.New().String()
	repo.db.voters[v.ID] = &v
	return v, nil
}

func (repo *voterRepository) GetVoter(ctx context.Context, filter voter.GetFilter) (voter.Voter, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	switch {
	case filter.ID != "":
		if v, ok := repo.db.voters[filter.ID]; ok {
			return *v, nil
		}
	case filter.Username != "":
		for _, v := range repo.db.voters {
			if v.Username == filter.Username {
				return *v, nil
			}
		}
	case filter.EnrollmentCode != "":
		code := voter.StripCode(filter.EnrollmentCode)
		for _, v := range repo.db.voters {
			if v.EnrollmentCode != "" && voter.StripCode(v.EnrollmentCode) == code {
				return *v, nil
			}
		}
	}
	return voter.Voter{}, voter.ErrNotFound
}

func (repo *voterRepository) QueryVoters(ctx context.Context, filter *voter.QueryFilter, ordering []core.DBOrdering) ([]voter.Voter, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	voters := make([]voter.Voter, 0, len(repo.db.voters))
	for _, v := range repo.db.voters {
		if filter != nil {
			if filter.Search != "" && !strings.Contains(strings.ToLower(v.Username), strings.ToLower(filter.Search)) {
				continue
			}
			if filter.IsEnrolled != nil && v.IsEnrolled != *filter.IsEnrolled {
				continue
			}
			if filter.IsDistributed != nil && v.EnrollmentCodeDistributed != *filter.IsDistributed {
				continue
			}
		}
		voters = append(voters, *v)
	}

	// only username ordering is needed here
	sort.Slice(voters, func(i, j int) bool { return voters[i].Username < voters[j].Username })
	return voters, nil
}

func (repo *voterRepository) UpdateVoter(ctx context.Context, v voter.Voter) (voter.Voter, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.voters[v.ID]; !ok {
		return voter.Voter{}, voter.ErrNotFound
	}
	repo.db.voters[v.ID] = &v
	return v, nil
}

func (repo *voterRepository) DeleteVotersByID(ctx context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.voters[id]; !ok {
			continue
		}
		delete(repo.db.voters, id)
		cnt++

		// a voter owns its participations
		for pid, p := range repo.db.participations {
			if p.VoterID == id {
				delete(repo.db.participations, pid)
			}
		}
	}
	return cnt, nil
}
