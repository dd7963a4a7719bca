package poll

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openchoicepolls/backend/core"
)

// Review statuses
const (
	ReviewOpen     = "OPEN"
	ReviewApproved = "APPROVED"
	ReviewRejected = "REJECTED"
)

var ReviewStatuses = []string{ReviewOpen, ReviewApproved, ReviewRejected}

// Choice is a suggested answer to a Question. The vote tally only changes via
// the vote-casting transaction and only while the status is APPROVED.
type Choice struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	Slug       string `json:"slug"`
	Votes      int    `json:"votes"`

	ReviewStatus string `json:"review_status"`
	ReviewRemark string `json:"review_remark,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (c Choice) IsApproved() bool { return c.ReviewStatus == ReviewApproved }

// NewChoice contains a choice suggestion submitted by a voter.
type NewChoice struct {
	Text string `json:"text" validate:"required,max=100"`
}

// Validate normalizes the text (whitespace runs collapsed, ends trimmed)
// before the struct rules run. The question regex and duplicate checks happen
// in the service against current question state.
func (nc *NewChoice) Validate(validate *validator.Validate) error {
	nc.Text = core.NormalizeText(nc.Text)
	return validate.Struct(nc)
}

// ChoiceFilter narrows choice queries.
type ChoiceFilter struct {
	QuestionID   string
	ReviewStatus string
}
