package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
)

type pollApi struct {
	opts *Options
}

func registerPollAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := pollApi{opts: opts}

	qg := g.Group("/questions")

	// un-authed endpoints: the public poll views
	qg.GET("", api.query)
	qg.GET("/:id", api.retrieve)
	qg.GET("/:id/choices", api.queryChoices)
	qg.GET("/:id/results", api.results)

	// authed endpoints
	ag := qg.Group("", jwt)
	ag.POST("", api.create, adminMiddleware())
	ag.POST("/:id/choices", api.submitChoice)
	ag.POST("/:id/vote", api.vote)

	g.Group("/choices", jwt).POST("/review", api.reviewChoices, adminMiddleware())
}

// Handlers

func (api *pollApi) create(ctx echo.Context) error {
	var data poll.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}

	q, err := api.opts.PollSvc.CreateQuestion(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *pollApi) query(ctx echo.Context) error {
	// the public listing only ever shows visible questions
	visible := true
	filter := &poll.QueryFilter{Search: ctx.QueryParam("search"), IsVisible: &visible}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	questions, err := api.opts.PollSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if questions == nil {
		questions = []poll.Question{}
	}
	return ctx.JSON(http.StatusOK, questions)
}

func (api *pollApi) retrieve(ctx echo.Context) error {
	q, err := api.getVisibleQuestion(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, q)
}

// queryChoices lists a question's choices, per review status and only for the
// statuses the question's display toggles expose.
func (api *pollApi) queryChoices(ctx echo.Context) error {
	q, err := api.getVisibleQuestion(ctx)
	if err != nil {
		return err
	}

	shown := map[string]bool{
		poll.ReviewApproved: q.ShowChoicesApproved,
		poll.ReviewOpen:     q.ShowChoicesOpen,
		poll.ReviewRejected: q.ShowChoicesRejected,
	}

	status := core.CleanString(ctx.QueryParam("review_status"), true /* lower */)
	filter := poll.ChoiceFilter{QuestionID: q.ID}
	switch status {
	case "":
	case "open":
		filter.ReviewStatus = poll.ReviewOpen
	case "approved":
		filter.ReviewStatus = poll.ReviewApproved
	case "rejected":
		filter.ReviewStatus = poll.ReviewRejected
	default:
		return core.NewValidationError(nil, core.FieldError{Field: "review_status", Error: "unknown review status"})
	}
	if filter.ReviewStatus != "" && !shown[filter.ReviewStatus] {
		return errHttpForbidden
	}

	choices, err := api.opts.PollSvc.QueryChoices(ctx.Request().Context(), filter, nil)
	if err != nil {
		return errors.Wrap(err, "querying choices")
	}

	out := make([]poll.Choice, 0, len(choices))
	for _, c := range choices {
		if shown[c.ReviewStatus] {
			out = append(out, c)
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *pollApi) submitChoice(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data poll.NewChoice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewChoice")
	}

	c, err := api.opts.PollSvc.SubmitChoice(ctx.Request().Context(), ctx.Param("id"), data, claims.IsAdmin)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *pollApi) vote(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data VoteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VoteRequest")
	}
	if err := data.Validate(api.opts.Validate); err != nil {
		return err
	}

	questionID := ctx.Param("id")
	_, err = api.opts.PollSvc.CastVote(ctx.Request().Context(), questionID, data.ChoiceID, claims.Subject)
	if err != nil {
		switch errors.Cause(err) {
		// gating failures degrade to the results view, not an error page
		case poll.ErrNotAllowed, poll.ErrAllVotesUsed, poll.ErrVoteNotActive:
			return ctx.Redirect(http.StatusSeeOther, fmt.Sprintf("/v1/questions/%s/results", questionID))
		}
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"voted": true})
}

func (api *pollApi) results(ctx echo.Context) error {
	q, err := api.getVisibleQuestion(ctx)
	if err != nil {
		return err
	}
	if !q.ShowVotingResults {
		return errHttpForbidden
	}

	choices, err := api.opts.PollSvc.Results(ctx.Request().Context(), q.ID)
	if err != nil {
		return errors.Wrap(err, "querying results")
	}

	var total int
	for _, c := range choices {
		total += c.Votes
	}
	return ctx.JSON(http.StatusOK, ResultsResponse{
		Question:   q.NumberText(),
		TotalVotes: total,
		Choices:    choices,
	})
}

func (api *pollApi) reviewChoices(ctx echo.Context) error {
	var data poll.ReviewAction
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewAction")
	}

	res, err := api.opts.PollSvc.ReviewChoices(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *pollApi) getVisibleQuestion(ctx echo.Context) (poll.Question, error) {
	q, err := api.opts.PollSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return poll.Question{}, err
	}
	if !q.IsVisible {
		return poll.Question{}, errHttpNotFound
	}
	return q, nil
}

type (
	VoteRequest struct {
		ChoiceID string `json:"choice_id" validate:"required,uuid4"`
	}

	ResultsResponse struct {
		Question   string        `json:"question"`
		TotalVotes int           `json:"total_votes"`
		Choices    []poll.Choice `json:"choices"`
	}
)

func (vr *VoteRequest) Validate(validate *validator.Validate) error {
	vr.ChoiceID = core.CleanString(vr.ChoiceID, true /* lower */)
	return validate.Struct(vr)
}
