package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/voter"
)

var _ voter.Repository = (*voterRepository)(nil)

type voterRepository struct {
	db *sqlx.DB
}

func NewVoterRepository(db *sqlx.DB) *voterRepository {
	return &voterRepository{db: db}
}

type dbVoter struct {
	ID                        string       `db:"id"`
	Username                  string       `db:"username"`
	Email                     string       `db:"email"`
	PasswordHash              []byte       `db:"password_hash"`
	IsAdmin                   bool         `db:"is_admin"`
	IsVoter                   bool         `db:"is_voter"`
	IsEnrolled                bool         `db:"is_enrolled"`
	EnrollmentCode            string       `db:"enrollment_code"`
	EnrollmentCodeDistributed bool         `db:"enrollment_code_distributed"`
	EnrollmentCodeValidUntil  sql.NullTime `db:"enrollment_code_valid_until"`
	CreatedAt                 time.Time    `db:"created_at"`
	UpdatedAt                 time.Time    `db:"updated_at"`
	LastLogin                 sql.NullTime `db:"last_login"`
}

func (row dbVoter) voter() voter.Voter {
	return voter.Voter{
		ID:                        row.ID,
		Username:                  row.Username,
		Email:                     row.Email,
		PasswordHash:              row.PasswordHash,
		IsAdmin:                   row.IsAdmin,
		IsVoter:                   row.IsVoter,
		IsEnrolled:                row.IsEnrolled,
		EnrollmentCode:            row.EnrollmentCode,
		EnrollmentCodeDistributed: row.EnrollmentCodeDistributed,
		EnrollmentCodeValidUntil:  fromNullTime(row.EnrollmentCodeValidUntil),
		CreatedAt:                 row.CreatedAt,
		UpdatedAt:                 row.UpdatedAt,
		LastLogin:                 fromNullTime(row.LastLogin),
	}
}

func toDBVoter(v voter.Voter) dbVoter {
	return dbVoter{
		ID:                        v.ID,
		Username:                  v.Username,
		Email:                     v.Email,
		PasswordHash:              v.PasswordHash,
		IsAdmin:                   v.IsAdmin,
		IsVoter:                   v.IsVoter,
		IsEnrolled:                v.IsEnrolled,
		EnrollmentCode:            v.EnrollmentCode,
		EnrollmentCodeDistributed: v.EnrollmentCodeDistributed,
		EnrollmentCodeValidUntil:  nullTime(v.EnrollmentCodeValidUntil),
		CreatedAt:                 v.CreatedAt.UTC(),
		UpdatedAt:                 v.UpdatedAt.UTC(),
		LastLogin:                 nullTime(v.LastLogin),
	}
}

const voterColumns = `id, username, email, password_hash, is_admin, is_voter, is_enrolled,
enrollment_code, enrollment_code_distributed, enrollment_code_valid_until,
created_at, updated_at, last_login`

var voterOrderings = map[string]string{
	"username":   "username",
	"created":    "created_at",
	"last_login": "last_login",
}

func (repo *voterRepository) CheckUsernameUniqueness(ctx context.Context, username string, excludedVoters ...voter.Voter) error {
	query := `SELECT EXISTS (SELECT 1 FROM voter WHERE lower(username) = lower(?)`
	args := []interface{}{username}
	if len(excludedVoters) > 0 {
		ids := make([]string, 0, len(excludedVoters))
		for _, v := range excludedVoters {
			ids = append(ids, v.ID)
		}
		in, inArgs, err := sqlx.In(` AND id NOT IN (?)`, ids)
		if err != nil {
			return errors.Wrap(err, "building exclusion clause")
		}
		query += in
		args = append(args, inArgs...)
	}
	query += `)`

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	if exists {
		return voter.ErrUsernameExists
	}
	return nil
}

func (repo *voterRepository) CreateVoter(ctx context.Context, v voter.Voter) (voter.Voter, error) {
	if err := repo.CheckUsernameUniqueness(ctx, v.Username); err != nil {
		return voter.Voter{}, err
	}

	query := `
	INSERT INTO voter (` + voterColumns + `)
	VALUES (:id, :username, :email, :password_hash, :is_admin, :is_voter, :is_enrolled,
		:enrollment_code, :enrollment_code_distributed, :enrollment_code_valid_until,
		:created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, query, toDBVoter(v)); err != nil {
		return voter.Voter{}, errors.Wrap(err, "inserting voter")
	}
	return v, nil
}

func (repo *voterRepository) GetVoter(ctx context.Context, filter voter.GetFilter) (voter.Voter, error) {
	query := `SELECT ` + voterColumns + ` FROM voter WHERE `
	var arg interface{}
	switch {
	case filter.ID != "":
		query += `id = $1`
		arg = filter.ID
	case filter.Username != "":
		query += `lower(username) = lower($1)`
		arg = filter.Username
	case filter.EnrollmentCode != "":
		query += `replace(replace(enrollment_code, '-', ''), ' ', '') = $1`
		arg = voter.StripCode(filter.EnrollmentCode)
	default:
		return voter.Voter{}, voter.ErrNotFound
	}

	var row dbVoter
	if err := repo.db.GetContext(ctx, &row, query, arg); err != nil {
		return voter.Voter{}, trapNoRowsErr(err, voter.ErrNotFound, "getting voter")
	}
	return row.voter(), nil
}

func (repo *voterRepository) QueryVoters(ctx context.Context, filter *voter.QueryFilter, ordering []core.DBOrdering) ([]voter.Voter, error) {
	query := `SELECT ` + voterColumns + ` FROM voter`
	var clauses []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			clauses = append(clauses, `(username ILIKE ? OR email ILIKE ?)`)
			pattern := "%" + filter.Search + "%"
			args = append(args, pattern, pattern)
		}
		if filter.IsEnrolled != nil {
			clauses = append(clauses, `is_enrolled = ?`)
			args = append(args, *filter.IsEnrolled)
		}
		if filter.IsDistributed != nil {
			clauses = append(clauses, `enrollment_code_distributed = ?`)
			args = append(args, *filter.IsDistributed)
		}
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += orderByClause(ordering, voterOrderings, `username ASC`)

	var rows []dbVoter
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying voters")
	}
	voters := make([]voter.Voter, len(rows))
	for i, row := range rows {
		voters[i] = row.voter()
	}
	return voters, nil
}

func (repo *voterRepository) UpdateVoter(ctx context.Context, v voter.Voter) (voter.Voter, error) {
	if err := repo.CheckUsernameUniqueness(ctx, v.Username, v); err != nil {
		return voter.Voter{}, err
	}

	v.UpdatedAt = time.Now().UTC()
	query := `
	UPDATE voter
	SET username = :username, email = :email, password_hash = :password_hash,
		is_admin = :is_admin, is_voter = :is_voter, is_enrolled = :is_enrolled,
		enrollment_code = :enrollment_code,
		enrollment_code_distributed = :enrollment_code_distributed,
		enrollment_code_valid_until = :enrollment_code_valid_until,
		updated_at = :updated_at, last_login = :last_login
	WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, query, toDBVoter(v))
	if err != nil {
		return voter.Voter{}, errors.Wrap(err, "updating voter")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voter.Voter{}, voter.ErrNotFound
	}
	return v, nil
}

func (repo *voterRepository) DeleteVotersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM voter WHERE id IN (?)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting voters")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted voters")
	}
	return int(n), nil
}
