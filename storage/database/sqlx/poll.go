package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
)

var _ poll.Repository = (*pollRepository)(nil)

type pollRepository struct {
	db *sqlx.DB
}

func NewPollRepository(db *sqlx.DB) *pollRepository {
	return &pollRepository{db: db}
}

type dbQuestion struct {
	ID                    string       `db:"id"`
	Number                int          `db:"number"`
	Text                  string       `db:"text"`
	Slug                  string       `db:"slug"`
	Description           string       `db:"description"`
	ChoiceValidationRegex string       `db:"choice_validation_regex"`
	ChoiceValidationHint  string       `db:"choice_validation_hint"`
	CollectionStart       sql.NullTime `db:"collection_start"`
	CollectionEnd         sql.NullTime `db:"collection_end"`
	VotingStart           sql.NullTime `db:"voting_start"`
	VotingEnd             sql.NullTime `db:"voting_end"`
	IsVisible             bool         `db:"is_visible"`
	ShowChoicesApproved   bool         `db:"show_choices_approved"`
	ShowChoicesOpen       bool         `db:"show_choices_open"`
	ShowChoicesRejected   bool         `db:"show_choices_rejected"`
	ShowVotingResults     bool         `db:"show_voting_results"`
	VotesPerSession       int          `db:"votes_per_session"`
	CreatedAt             time.Time    `db:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

func (row dbQuestion) question() poll.Question {
	return poll.Question{
		ID:                    row.ID,
		Number:                row.Number,
		Text:                  row.Text,
		Slug:                  row.Slug,
		Description:           row.Description,
		ChoiceValidationRegex: row.ChoiceValidationRegex,
		ChoiceValidationHint:  row.ChoiceValidationHint,
		CollectionStart:       fromNullTime(row.CollectionStart),
		CollectionEnd:         fromNullTime(row.CollectionEnd),
		VotingStart:           fromNullTime(row.VotingStart),
		VotingEnd:             fromNullTime(row.VotingEnd),
		IsVisible:             row.IsVisible,
		ShowChoicesApproved:   row.ShowChoicesApproved,
		ShowChoicesOpen:       row.ShowChoicesOpen,
		ShowChoicesRejected:   row.ShowChoicesRejected,
		ShowVotingResults:     row.ShowVotingResults,
		VotesPerSession:       row.VotesPerSession,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}

func toDBQuestion(q poll.Question) dbQuestion {
	return dbQuestion{
		ID:                    q.ID,
		Number:                q.Number,
		Text:                  q.Text,
		Slug:                  q.Slug,
		Description:           q.Description,
		ChoiceValidationRegex: q.ChoiceValidationRegex,
		ChoiceValidationHint:  q.ChoiceValidationHint,
		CollectionStart:       nullTime(q.CollectionStart),
		CollectionEnd:         nullTime(q.CollectionEnd),
		VotingStart:           nullTime(q.VotingStart),
		VotingEnd:             nullTime(q.VotingEnd),
		IsVisible:             q.IsVisible,
		ShowChoicesApproved:   q.ShowChoicesApproved,
		ShowChoicesOpen:       q.ShowChoicesOpen,
		ShowChoicesRejected:   q.ShowChoicesRejected,
		ShowVotingResults:     q.ShowVotingResults,
		VotesPerSession:       q.VotesPerSession,
		CreatedAt:             q.CreatedAt.UTC(),
		UpdatedAt:             q.UpdatedAt.UTC(),
	}
}

type dbChoice struct {
	ID           string    `db:"id"`
	QuestionID   string    `db:"question_id"`
	Text         string    `db:"text"`
	Slug         string    `db:"slug"`
	Votes        int       `db:"votes"`
	ReviewStatus string    `db:"review_status"`
	ReviewRemark string    `db:"review_remark"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row dbChoice) choice() poll.Choice {
	return poll.Choice{
		ID:           row.ID,
		QuestionID:   row.QuestionID,
		Text:         row.Text,
		Slug:         row.Slug,
		Votes:        row.Votes,
		ReviewStatus: row.ReviewStatus,
		ReviewRemark: row.ReviewRemark,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

const (
	questionColumns = `id, number, text, slug, description,
choice_validation_regex, choice_validation_hint,
collection_start, collection_end, voting_start, voting_end,
is_visible, show_choices_approved, show_choices_open, show_choices_rejected,
show_voting_results, votes_per_session, created_at, updated_at`

	choiceColumns = `id, question_id, text, slug, votes, review_status, review_remark,
created_at, updated_at`
)

var (
	questionOrderings = map[string]string{
		"number":  "number",
		"text":    "lower(text)",
		"created": "created_at",
	}

	choiceOrderings = map[string]string{
		"text":    "lower(text)",
		"votes":   "votes",
		"created": "created_at",
	}
)

// CreateQuestion assigns the next question number inside one transaction. The
// table lock serializes concurrent creations so numbers come out gapless.
func (repo *pollRepository) CreateQuestion(ctx context.Context, q poll.Question) (poll.Question, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return poll.Question{}, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err = tx.ExecContext(ctx, `LOCK TABLE question IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return poll.Question{}, errors.Wrap(err, "locking question table")
	}

	if err = tx.GetContext(ctx, &q.Number, `SELECT COALESCE(MAX(number), 0) + 1 FROM question`); err != nil {
		return poll.Question{}, errors.Wrap(err, "assigning question number")
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}

	query := `
	INSERT INTO question (` + questionColumns + `)
	VALUES (:id, :number, :text, :slug, :description,
		:choice_validation_regex, :choice_validation_hint,
		:collection_start, :collection_end, :voting_start, :voting_end,
		:is_visible, :show_choices_approved, :show_choices_open, :show_choices_rejected,
		:show_voting_results, :votes_per_session, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, toDBQuestion(q)); err != nil {
		return poll.Question{}, errors.Wrap(err, "inserting question")
	}
	if err = tx.Commit(); err != nil {
		return poll.Question{}, errors.Wrap(err, "committing question")
	}
	return q, nil
}

func (repo *pollRepository) GetQuestion(ctx context.Context, filter poll.GetFilter) (poll.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM question WHERE `
	var arg interface{}
	switch {
	case filter.ID != "":
		query += `id = $1`
		arg = filter.ID
	case filter.Slug != "":
		query += `slug = $1`
		arg = filter.Slug
	case filter.Number > 0:
		query += `number = $1`
		arg = filter.Number
	default:
		return poll.Question{}, poll.ErrNotFound
	}

	var row dbQuestion
	if err := repo.db.GetContext(ctx, &row, query, arg); err != nil {
		return poll.Question{}, trapNoRowsErr(err, poll.ErrNotFound, "getting question")
	}
	return row.question(), nil
}

func (repo *pollRepository) QueryQuestions(ctx context.Context, filter *poll.QueryFilter, ordering []core.DBOrdering) ([]poll.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM question`
	var clauses []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			clauses = append(clauses, `(text ILIKE ? OR description ILIKE ?)`)
			pattern := "%" + filter.Search + "%"
			args = append(args, pattern, pattern)
		}
		if filter.IsVisible != nil {
			clauses = append(clauses, `is_visible = ?`)
			args = append(args, *filter.IsVisible)
		}
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += orderByClause(ordering, questionOrderings, `number ASC`)

	var rows []dbQuestion
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	questions := make([]poll.Question, len(rows))
	for i, row := range rows {
		questions[i] = row.question()
	}
	return questions, nil
}

func (repo *pollRepository) CreateChoice(ctx context.Context, c poll.Choice) (poll.Choice, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query := `
	INSERT INTO choice (` + choiceColumns + `)
	VALUES (:id, :question_id, :text, :slug, :votes, :review_status, :review_remark,
		:created_at, :updated_at)`
	row := dbChoice{
		ID:           c.ID,
		QuestionID:   c.QuestionID,
		Text:         c.Text,
		Slug:         c.Slug,
		Votes:        c.Votes,
		ReviewStatus: c.ReviewStatus,
		ReviewRemark: c.ReviewRemark,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return poll.Choice{}, errors.Wrap(err, "inserting choice")
	}
	return c, nil
}

func (repo *pollRepository) GetChoice(ctx context.Context, id string) (poll.Choice, error) {
	var row dbChoice
	query := `SELECT ` + choiceColumns + ` FROM choice WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		return poll.Choice{}, trapNoRowsErr(err, poll.ErrNotFound, "getting choice")
	}
	return row.choice(), nil
}

func (repo *pollRepository) QueryChoices(ctx context.Context, filter poll.ChoiceFilter, ordering []core.DBOrdering) ([]poll.Choice, error) {
	query := `SELECT ` + choiceColumns + ` FROM choice`
	var clauses []string
	var args []interface{}

	if filter.QuestionID != "" {
		clauses = append(clauses, `question_id = ?`)
		args = append(args, filter.QuestionID)
	}
	if filter.ReviewStatus != "" {
		clauses = append(clauses, `review_status = ?`)
		args = append(args, filter.ReviewStatus)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += orderByClause(ordering, choiceOrderings, `lower(text) ASC`)

	var rows []dbChoice
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying choices")
	}
	choices := make([]poll.Choice, len(rows))
	for i, row := range rows {
		choices[i] = row.choice()
	}
	return choices, nil
}

// SetChoicesReviewStatus updates each selected choice independently: a row
// that fails does not undo the ones already updated.
func (repo *pollRepository) SetChoicesReviewStatus(ctx context.Context, ids []string, status, remark string) (int, error) {
	query := `
	UPDATE choice
	SET review_status = $2, review_remark = $3, updated_at = $4
	WHERE id = $1`
	now := time.Now().UTC()

	var cnt int
	for _, id := range ids {
		res, err := repo.db.ExecContext(ctx, query, id, status, remark, now)
		if err != nil {
			return cnt, errors.Wrapf(err, "updating review status of choice %s", id)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			cnt++
		}
	}
	return cnt, nil
}

func (repo *pollRepository) ResetChoicesVotes(ctx context.Context, ids []string) (int, error) {
	query := `UPDATE choice SET votes = 0, updated_at = $2 WHERE id = $1`
	now := time.Now().UTC()

	var cnt int
	for _, id := range ids {
		res, err := repo.db.ExecContext(ctx, query, id, now)
		if err != nil {
			return cnt, errors.Wrapf(err, "resetting votes of choice %s", id)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			cnt++
		}
	}
	return cnt, nil
}

type dbParticipation struct {
	ID         string `db:"id"`
	VoterID    string `db:"voter_id"`
	QuestionID string `db:"question_id"`
	IsAllowed  bool   `db:"is_allowed"`
	VotesCast  int    `db:"votes_cast"`
}

func (row dbParticipation) participation() poll.Participation {
	return poll.Participation(row)
}

const participationColumns = `id, voter_id, question_id, is_allowed, votes_cast`

// GrantParticipation upserts on the (voter, question) pair so at most one row
// ever exists for it; re-granting re-allows a disallowed participation but
// keeps its votes_cast.
func (repo *pollRepository) GrantParticipation(ctx context.Context, voterID, questionID string) (poll.Participation, error) {
	query := `
	INSERT INTO participation (id, voter_id, question_id, is_allowed, votes_cast)
	VALUES ($1, $2, $3, true, 0)
	ON CONFLICT (voter_id, question_id)
	DO UPDATE SET is_allowed = true
	RETURNING ` + participationColumns
	var row dbParticipation
	if err := repo.db.GetContext(ctx, &row, query, uuid.New().String(), voterID, questionID); err != nil {
		return poll.Participation{}, errors.Wrap(err, "granting participation")
	}
	return row.participation(), nil
}

func (repo *pollRepository) GetParticipation(ctx context.Context, voterID, questionID string) (poll.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participation WHERE voter_id = $1 AND question_id = $2`
	var row dbParticipation
	if err := repo.db.GetContext(ctx, &row, query, voterID, questionID); err != nil {
		return poll.Participation{}, trapNoRowsErr(err, poll.ErrNotAllowed, "getting participation")
	}
	if !row.IsAllowed {
		return poll.Participation{}, poll.ErrNotAllowed
	}
	return row.participation(), nil
}

func (repo *pollRepository) QueryParticipations(ctx context.Context, voterID string) ([]poll.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participation WHERE voter_id = $1`
	var rows []dbParticipation
	if err := repo.db.SelectContext(ctx, &rows, query, voterID); err != nil {
		return nil, errors.Wrap(err, "querying participations")
	}
	participations := make([]poll.Participation, len(rows))
	for i, row := range rows {
		participations[i] = row.participation()
	}
	return participations, nil
}

// CastVote locks the participation and choice rows, re-checks every
// precondition against the locked state and applies both increments before
// committing. Two voters racing on the same participation serialize on the
// row lock, so no cast is ever lost and no quota is ever exceeded.
func (repo *pollRepository) CastVote(ctx context.Context, q poll.Question, choiceID, voterID string) (poll.VoteResult, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var p dbParticipation
	query := `
	SELECT ` + participationColumns + `
	FROM participation
	WHERE voter_id = $1 AND question_id = $2
	FOR UPDATE`
	if err = tx.GetContext(ctx, &p, query, voterID, q.ID); err != nil {
		return poll.VoteResult{}, trapNoRowsErr(err, poll.ErrNotAllowed, "locking participation")
	}
	if !p.IsAllowed {
		return poll.VoteResult{}, poll.ErrNotAllowed
	}
	if !p.participation().HasQuota(q) {
		return poll.VoteResult{}, poll.ErrAllVotesUsed
	}

	var c dbChoice
	query = `SELECT ` + choiceColumns + ` FROM choice WHERE id = $1 AND question_id = $2 FOR UPDATE`
	if err = tx.GetContext(ctx, &c, query, choiceID, q.ID); err != nil {
		return poll.VoteResult{}, trapNoRowsErr(err, poll.ErrNotFound, "locking choice")
	}
	if c.ReviewStatus != poll.ReviewApproved {
		// silently discarded, reported as success
		return poll.VoteResult{Tallied: false}, tx.Commit()
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE choice SET votes = votes + 1, updated_at = $2 WHERE id = $1`, c.ID, now); err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "incrementing choice votes")
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE participation SET votes_cast = votes_cast + 1 WHERE id = $1`, p.ID); err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "incrementing votes cast")
	}
	if err = tx.Commit(); err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "committing vote")
	}
	return poll.VoteResult{Tallied: true}, nil
}

// IncrementChoiceVotes is the anonymous-session tally path; the quota lives
// with the caller, only the approved-choice gate and the increment run here.
func (repo *pollRepository) IncrementChoiceVotes(ctx context.Context, questionID, choiceID string) (poll.VoteResult, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	var c dbChoice
	query := `SELECT ` + choiceColumns + ` FROM choice WHERE id = $1 AND question_id = $2 FOR UPDATE`
	if err = tx.GetContext(ctx, &c, query, choiceID, questionID); err != nil {
		return poll.VoteResult{}, trapNoRowsErr(err, poll.ErrNotFound, "locking choice")
	}
	if c.ReviewStatus != poll.ReviewApproved {
		return poll.VoteResult{Tallied: false}, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE choice SET votes = votes + 1, updated_at = $2 WHERE id = $1`, c.ID, time.Now().UTC()); err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "incrementing choice votes")
	}
	if err = tx.Commit(); err != nil {
		return poll.VoteResult{}, errors.Wrap(err, "committing vote")
	}
	return poll.VoteResult{Tallied: true}, nil
}
