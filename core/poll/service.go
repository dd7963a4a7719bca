package poll

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
)

var (
	// errors
	ErrNotFound            = errors.New("not found")
	ErrNotAllowed          = errors.New("not allowed to participate in this question")
	ErrAllVotesUsed        = errors.New("all votes used up")
	ErrVoteNotActive       = errors.New("vote is not active")
	ErrCollectionNotActive = errors.New("choice collection is not active")
)

// Review bulk actions
const (
	ActionApprove    = "approve"
	ActionReject     = "reject"
	ActionReset      = "reset"
	ActionResetVotes = "reset-votes"
)

type (
	Repository interface {
		// CreateQuestion persists q and assigns its Number (max existing + 1)
		// inside one serialized transaction so concurrent creations never
		// share a number.
		CreateQuestion(ctx context.Context, q Question) (Question, error)
		GetQuestion(ctx context.Context, filter GetFilter) (Question, error)
		QueryQuestions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error)

		CreateChoice(ctx context.Context, c Choice) (Choice, error)
		GetChoice(ctx context.Context, id string) (Choice, error)
		QueryChoices(ctx context.Context, filter ChoiceFilter, ordering []core.DBOrdering) ([]Choice, error)
		// SetChoicesReviewStatus updates each selected row independently; a
		// failure on one row does not roll back the others.
		SetChoicesReviewStatus(ctx context.Context, ids []string, status, remark string) (int, error)
		ResetChoicesVotes(ctx context.Context, ids []string) (int, error)

		GrantParticipation(ctx context.Context, voterID, questionID string) (Participation, error)
		// GetParticipation returns ErrNotAllowed both when no row exists and
		// when the row is not allowed; callers cannot tell the two apart.
		GetParticipation(ctx context.Context, voterID, questionID string) (Participation, error)
		QueryParticipations(ctx context.Context, voterID string) ([]Participation, error)

		// CastVote runs preconditions 2-4 of the vote-casting transaction in
		// order (participation, quota, choice lookup) and applies both
		// increments in one locked transaction. A non-APPROVED choice is a
		// silent no-op reported as success with Tallied=false.
		CastVote(ctx context.Context, q Question, choiceID, voterID string) (VoteResult, error)
		// IncrementChoiceVotes is the session-ledger variant: APPROVED-gated
		// tally increment with no participation involved.
		IncrementChoiceVotes(ctx context.Context, questionID, choiceID string) (VoteResult, error)
	}

	ServiceInterface interface {
		CreateQuestion(ctx context.Context, nq NewQuestion) (Question, error)
		GetByID(ctx context.Context, id string) (Question, error)
		GetBySlug(ctx context.Context, slug string) (Question, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error)

		SubmitChoice(ctx context.Context, questionID string, nc NewChoice, byAdmin bool) (Choice, error)
		QueryChoices(ctx context.Context, filter ChoiceFilter, ordering []core.DBOrdering) ([]Choice, error)
		ReviewChoices(ctx context.Context, ra ReviewAction) (BulkResult, error)

		CastVote(ctx context.Context, questionID, choiceID, voterKey string) (VoteResult, error)
		Results(ctx context.Context, questionID string) ([]Choice, error)

		GrantParticipation(ctx context.Context, voterID, questionID string) error
		GetParticipation(ctx context.Context, voterID, questionID string) (Participation, error)
		VoterParticipations(ctx context.Context, voterID string) ([]Participation, error)

		TotalChoices(ctx context.Context, questionID string) (int, error)
		TotalApprovedChoices(ctx context.Context, questionID string) (int, error)
		TotalVotes(ctx context.Context, questionID string) (int, error)
	}

	service struct {
		repo     Repository
		ledger   VoteLedger
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, ledger VoteLedger, validate *validator.Validate) *service {
	return &service{
		repo:     repo,
		ledger:   ledger,
		validate: validate,
	}
}

func (svc *service) CreateQuestion(ctx context.Context, nq NewQuestion) (Question, error) {
	if err := nq.Validate(svc.validate); err != nil {
		return Question{}, err
	}

	boolOr := func(b *bool, dflt bool) bool {
		if b != nil {
			return *b
		}
		return dflt
	}

	now := time.Now().UTC()
	q := Question{
		Text:                  nq.Text,
		Slug:                  core.Slugify(nq.Text),
		Description:           nq.Description,
		ChoiceValidationRegex: nq.ChoiceValidationRegex,
		ChoiceValidationHint:  nq.ChoiceValidationHint,
		CollectionStart:       nq.CollectionStart,
		CollectionEnd:         nq.CollectionEnd,
		VotingStart:           nq.VotingStart,
		VotingEnd:             nq.VotingEnd,
		IsVisible:             boolOr(nq.IsVisible, true),
		ShowChoicesApproved:   boolOr(nq.ShowChoicesApproved, true),
		ShowChoicesOpen:       boolOr(nq.ShowChoicesOpen, true),
		ShowChoicesRejected:   boolOr(nq.ShowChoicesRejected, true),
		ShowVotingResults:     boolOr(nq.ShowVotingResults, true),
		VotesPerSession:       nq.VotesPerSession,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if q.VotesPerSession == 0 {
		q.VotesPerSession = 5
	}
	return svc.repo.CreateQuestion(ctx, q)
}

func (svc *service) GetByID(ctx context.Context, id string) (Question, error) {
	return svc.repo.GetQuestion(ctx, GetFilter{ID: id})
}

func (svc *service) GetBySlug(ctx context.Context, slug string) (Question, error) {
	return svc.repo.GetQuestion(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error) {
	if filter != nil {
		filter.Clean()
		if filter.IsEmpty() {
			filter = nil
		}
	}
	return svc.repo.QueryQuestions(ctx, filter, ordering)
}

// SubmitChoice validates and stores a choice suggestion. Voter submissions
// are only legal while the collection phase is active; admins may add choices
// any time. Slug equality is the authoritative duplicate test: it subsumes
// exact-text equality after normalization.
func (svc *service) SubmitChoice(ctx context.Context, questionID string, nc NewChoice, byAdmin bool) (Choice, error) {
	q, err := svc.repo.GetQuestion(ctx, GetFilter{ID: questionID})
	if err != nil {
		return Choice{}, err
	}
	if !byAdmin && !q.CollectionIsActive(time.Now().UTC()) {
		return Choice{}, ErrCollectionNotActive
	}

	if err := nc.Validate(svc.validate); err != nil {
		return Choice{}, err
	}

	if q.ChoiceValidationRegex != "" {
		re, err := regexp.Compile(q.ChoiceValidationRegex)
		if err != nil {
			return Choice{}, errors.Wrap(err, "compiling choice validation regex")
		}
		if !re.MatchString(nc.Text) {
			hint := q.ChoiceValidationHint
			if hint == "" {
				hint = "suggestion does not match the required format"
			}
			return Choice{}, core.NewValidationError(nil, core.FieldError{Field: "text", Error: hint})
		}
	}

	slug := core.Slugify(nc.Text)
	existing, err := svc.repo.QueryChoices(ctx, ChoiceFilter{QuestionID: q.ID}, nil)
	if err != nil {
		return Choice{}, errors.Wrap(err, "querying choices")
	}
	for _, c := range existing {
		if c.Slug == slug {
			return Choice{}, core.NewValidationError(nil, core.FieldError{
				Field: "text",
				Error: "this suggestion already exists",
			})
		}
	}

	now := time.Now().UTC()
	c := Choice{
		QuestionID:   q.ID,
		Text:         nc.Text,
		Slug:         slug,
		ReviewStatus: ReviewOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return svc.repo.CreateChoice(ctx, c)
}

func (svc *service) QueryChoices(ctx context.Context, filter ChoiceFilter, ordering []core.DBOrdering) ([]Choice, error) {
	return svc.repo.QueryChoices(ctx, filter, ordering)
}

// ReviewChoices applies an admin bulk action to the selected choices. Each
// row update is independent; the result reports how many rows were affected.
func (svc *service) ReviewChoices(ctx context.Context, ra ReviewAction) (BulkResult, error) {
	if err := ra.Validate(svc.validate); err != nil {
		return BulkResult{}, err
	}

	var cnt int
	var err error
	var msg string
	switch ra.Action {
	case ActionApprove:
		cnt, err = svc.repo.SetChoicesReviewStatus(ctx, ra.IDs, ReviewApproved, ra.Remark)
		msg = fmt.Sprintf("%s successfully approved.", core.Pluralize(cnt, "choice"))
	case ActionReject:
		cnt, err = svc.repo.SetChoicesReviewStatus(ctx, ra.IDs, ReviewRejected, ra.Remark)
		msg = fmt.Sprintf("%s successfully rejected.", core.Pluralize(cnt, "choice"))
	case ActionReset:
		cnt, err = svc.repo.SetChoicesReviewStatus(ctx, ra.IDs, ReviewOpen, ra.Remark)
		msg = fmt.Sprintf("Review status of %s successfully reset.", core.Pluralize(cnt, "choice"))
	case ActionResetVotes:
		cnt, err = svc.repo.ResetChoicesVotes(ctx, ra.IDs)
		msg = fmt.Sprintf("Votes of %s successfully reset.", core.Pluralize(cnt, "choice"))
	}
	if err != nil {
		return BulkResult{}, errors.Wrap(err, "updating choices")
	}
	return BulkResult{Action: ra.Action, Count: cnt, Message: msg}, nil
}

// CastVote is the consistency-critical operation. Preconditions, in order:
// voting phase active, allowing participation, quota left, approved choice.
// The phase check happens here; the rest runs inside the ledger transaction.
func (svc *service) CastVote(ctx context.Context, questionID, choiceID, voterKey string) (VoteResult, error) {
	q, err := svc.repo.GetQuestion(ctx, GetFilter{ID: questionID})
	if err != nil {
		return VoteResult{}, err
	}
	if !q.VotingIsActive(time.Now().UTC()) {
		return VoteResult{}, ErrVoteNotActive
	}
	return svc.ledger.CastVote(ctx, q, choiceID, voterKey)
}

// Results returns the approved choices ordered by vote tally, highest first.
func (svc *service) Results(ctx context.Context, questionID string) ([]Choice, error) {
	return svc.repo.QueryChoices(ctx,
		ChoiceFilter{QuestionID: questionID, ReviewStatus: ReviewApproved},
		[]core.DBOrdering{{Field: "votes", Ascending: false}},
	)
}

// GrantParticipation creates an allowed participation; a missing question is
// skipped silently (the voter batch goes on without the grant).
func (svc *service) GrantParticipation(ctx context.Context, voterID, questionID string) error {
	if _, err := svc.repo.GetQuestion(ctx, GetFilter{ID: questionID}); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return err
	}
	_, err := svc.repo.GrantParticipation(ctx, voterID, questionID)
	return err
}

func (svc *service) GetParticipation(ctx context.Context, voterID, questionID string) (Participation, error) {
	return svc.repo.GetParticipation(ctx, voterID, questionID)
}

func (svc *service) VoterParticipations(ctx context.Context, voterID string) ([]Participation, error) {
	return svc.repo.QueryParticipations(ctx, voterID)
}

// Derived aggregates; recomputed on demand so they always reflect current
// choice state.

func (svc *service) TotalChoices(ctx context.Context, questionID string) (int, error) {
	choices, err := svc.repo.QueryChoices(ctx, ChoiceFilter{QuestionID: questionID}, nil)
	if err != nil {
		return 0, err
	}
	return len(choices), nil
}

func (svc *service) TotalApprovedChoices(ctx context.Context, questionID string) (int, error) {
	choices, err := svc.repo.QueryChoices(ctx, ChoiceFilter{QuestionID: questionID, ReviewStatus: ReviewApproved}, nil)
	if err != nil {
		return 0, err
	}
	return len(choices), nil
}

func (svc *service) TotalVotes(ctx context.Context, questionID string) (int, error) {
	choices, err := svc.repo.QueryChoices(ctx, ChoiceFilter{QuestionID: questionID, ReviewStatus: ReviewApproved}, nil)
	if err != nil {
		return 0, err
	}
	var total int
	for _, c := range choices {
		total += c.Votes
	}
	return total, nil
}

type (
	// ReviewAction is an admin bulk operation over a selected choice set.
	ReviewAction struct {
		IDs    []string `json:"ids" validate:"required,min=1"`
		Action string   `json:"action" validate:"required,oneof=approve reject reset reset-votes"`
		Remark string   `json:"remark"`
	}

	BulkResult struct {
		Action  string `json:"action"`
		Count   int    `json:"count"`
		Message string `json:"message"`
	}
)

func (ra *ReviewAction) Validate(validate *validator.Validate) error {
	ra.Action = core.CleanString(ra.Action, true /* lower */)
	ra.Remark = core.CleanString(ra.Remark)
	return validate.Struct(ra)
}
