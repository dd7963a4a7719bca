package poll

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openchoicepolls/backend/core"
)

// Question is a poll unit with two phases: choice collection and voting.
// Number is assigned exactly once at first persistence (max existing + 1) and
// never changes; the slug derives from the text once and stays stable.
type Question struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Text        string `json:"text"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`

	ChoiceValidationRegex string `json:"choice_validation_regex,omitempty"`
	ChoiceValidationHint  string `json:"choice_validation_hint,omitempty"`

	CollectionStart time.Time `json:"collection_start"`
	CollectionEnd   time.Time `json:"collection_end"`
	VotingStart     time.Time `json:"voting_start"`
	VotingEnd       time.Time `json:"voting_end"`

	IsVisible           bool `json:"is_visible"`
	ShowChoicesApproved bool `json:"show_choices_approved"`
	ShowChoicesOpen     bool `json:"show_choices_open"`
	ShowChoicesRejected bool `json:"show_choices_rejected"`
	ShowVotingResults   bool `json:"show_voting_results"`

	VotesPerSession int `json:"votes_per_session"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// phaseActive: start <= now <= end; an unset bound means "not active".
func phaseActive(start, end, now time.Time) bool {
	if start.IsZero() || end.IsZero() {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

func (q Question) CollectionIsActive(now time.Time) bool {
	return phaseActive(q.CollectionStart, q.CollectionEnd, now)
}

func (q Question) CollectionIsInPast(now time.Time) bool {
	return q.CollectionStart.Before(now) && q.CollectionEnd.Before(now)
}

func (q Question) CollectionIsInFuture(now time.Time) bool {
	return now.Before(q.CollectionStart) && now.Before(q.CollectionEnd)
}

func (q Question) CollectionDuration() time.Duration {
	return q.CollectionEnd.Sub(q.CollectionStart)
}

func (q Question) VotingIsActive(now time.Time) bool {
	return phaseActive(q.VotingStart, q.VotingEnd, now)
}

func (q Question) VotingIsInPast(now time.Time) bool {
	return q.VotingStart.Before(now) && q.VotingEnd.Before(now)
}

func (q Question) VotingIsInFuture(now time.Time) bool {
	return now.Before(q.VotingStart) && now.Before(q.VotingEnd)
}

func (q Question) VotingDuration() time.Duration {
	return q.VotingEnd.Sub(q.VotingStart)
}

// NumberZfill renders the numeric identifier as "Q042".
func (q Question) NumberZfill() string {
	return fmt.Sprintf("Q%03d", q.Number)
}

func (q Question) NumberText() string {
	return fmt.Sprintf("%s %s", q.NumberZfill(), q.Text)
}

// NewQuestion contains information needed to create a new Question.
type NewQuestion struct {
	Text        string `json:"text" validate:"required,max=200"`
	Description string `json:"description"`

	ChoiceValidationRegex string `json:"choice_validation_regex"`
	ChoiceValidationHint  string `json:"choice_validation_hint"`

	CollectionStart time.Time `json:"collection_start"`
	CollectionEnd   time.Time `json:"collection_end"`
	VotingStart     time.Time `json:"voting_start"`
	VotingEnd       time.Time `json:"voting_end"`

	IsVisible           *bool `json:"is_visible"`
	ShowChoicesApproved *bool `json:"show_choices_approved"`
	ShowChoicesOpen     *bool `json:"show_choices_open"`
	ShowChoicesRejected *bool `json:"show_choices_rejected"`
	ShowVotingResults   *bool `json:"show_voting_results"`

	VotesPerSession int `json:"votes_per_session" validate:"omitempty,min=1"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Text = core.NormalizeText(nq.Text)
	if err := validate.Struct(nq); err != nil {
		return err
	}
	if nq.ChoiceValidationRegex != "" {
		if _, err := regexp.Compile(nq.ChoiceValidationRegex); err != nil {
			return core.NewValidationError(err, core.FieldError{
				Field: "choice_validation_regex",
				Error: "invalid regex for choice validation",
			})
		}
	}
	return nil
}

type QueryFilter struct {
	Search    string `query:"search"`
	IsVisible *bool  `query:"is_visible"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.IsVisible == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter locates a unique Question; exactly one field should be set.
type GetFilter struct {
	ID     string
	Slug   string
	Number int
}
