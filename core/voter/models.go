package voter

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/openchoicepolls/backend/core"
)

// Voter is the account aggregate: the identity record and its voting profile
// live in one row, so the identity<->profile cascade cycle of older revisions
// collapses into single-row ownership.
type Voter struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash []byte    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	IsVoter      bool      `json:"is_voter"`
	IsEnrolled   bool      `json:"is_enrolled"`

	EnrollmentCode            string    `json:"-"`
	EnrollmentCodeDistributed bool      `json:"-"`
	EnrollmentCodeValidUntil  time.Time `json:"-"` // zero = never expires

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
	LastLogin time.Time `json:"last_login"` // UTC
}

func (v *Voter) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	v.PasswordHash = hash
	return nil
}

func (v *Voter) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(v.PasswordHash, []byte(pwd))
}

// CodeExpired reports whether the enrollment code can no longer be used.
func (v *Voter) CodeExpired(now time.Time) bool {
	return !v.EnrollmentCodeValidUntil.IsZero() && now.After(v.EnrollmentCodeValidUntil)
}

// NewVoters contains information needed to bulk-create voters.
type NewVoters struct {
	Amount           int    `json:"amount" validate:"required,min=1"`
	CodeValidityDays int    `json:"code_validity_days" validate:"omitempty,min=1"`
	QuestionID       string `json:"question_id" validate:"omitempty,uuid4"`
}

func (nv *NewVoters) Validate(validate *validator.Validate) error {
	return validate.Struct(nv)
}

// EnrollVoter carries an enrollment attempt. Username, when supplied, guides
// the lookup; otherwise the voter is located by code.
type EnrollVoter struct {
	EnrollmentCode string `json:"enrollment_code" validate:"required"`
	Username       string `json:"username" validate:"omitempty,username_"`
}

func (ev *EnrollVoter) Validate(validate *validator.Validate) error {
	ev.EnrollmentCode = NormalizeCode(ev.EnrollmentCode)
	ev.Username = core.CleanString(ev.Username, true /* lower */)
	return validate.Struct(ev)
}

type SignIn struct {
	Username string `json:"username" validate:"required,username_"`
	Password string `json:"password" validate:"required"`
}

func (si *SignIn) Validate(validate *validator.Validate) error {
	si.Username = core.CleanString(si.Username, true /* lower */)
	return validate.Struct(si)
}

type QueryFilter struct {
	Search        string `query:"search"`
	IsEnrolled    *bool  `query:"is_enrolled"`
	IsDistributed *bool  `query:"is_distributed"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.IsEnrolled == nil && qf.IsDistributed == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter locates a unique Voter; exactly one field should be set.
type GetFilter struct {
	ID             string
	Username       string
	EnrollmentCode string // compared with hyphens stripped
}
