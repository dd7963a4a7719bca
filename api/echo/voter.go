package echoapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/voter"
)

var errVoterNotFoundInCtx = errors.New("voter object not found in echo.Context")

type voterApi struct {
	opts *Options
}

func registerVoterAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := voterApi{opts: opts}

	vg := g.Group("/voters")

	// un-authed endpoints
	// TODO: rate limit `/enroll` & `/sign-in`
	vg.GET("/enroll", api.enrollPrefill)
	vg.POST("/enroll", api.enroll)
	vg.POST("/sign-in", api.signIn)

	// authed endpoints
	ag := vg.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("", api.createMultiple, adminMiddleware())
	ag.GET("", api.query, adminMiddleware())
	ag.DELETE("", api.destroyMultiple, adminMiddleware())

	// detail endpoints
	dg := ag.Group("/:username", ctxVoterOrAdminMiddleware(opts.VoterSvc))
	dg.GET("", api.retrieve)
}

// Handlers

// enrollPrefill echoes back the canonical form of a code passed via the `c`
// short link parameter, for client-side form prefill.
func (api *voterApi) enrollPrefill(ctx echo.Context) error {
	code := ctx.QueryParam("c")
	if code == "" {
		code = ctx.QueryParam("enrollment_code")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"enrollment_code": voter.NormalizeCode(code)})
}

func (api *voterApi) enroll(ctx echo.Context) error {
	var data voter.EnrollVoter
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollVoter")
	}

	vtr, newPwd, err := api.opts.VoterSvc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		switch errors.Cause(err) {
		case voter.ErrNotFound:
			return core.NewValidationError(nil, core.FieldError{
				Field: "enrollment_code",
				Error: "unknown or expired enrollment code",
			})
		case voter.ErrAlreadyEnrolled:
			return core.NewValidationError(nil, core.FieldError{
				Field: "enrollment_code",
				Error: "this enrollment code has already been used",
			})
		}
		return errors.Wrap(err, "enrolling voter")
	}

	token, err := GenerateToken(api.opts.Conf, GetVoterClaims(api.opts.Conf, vtr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	// the new password is surfaced here once and never again
	return ctx.JSON(http.StatusOK, EnrollResponse{
		Voter:    vtr,
		Password: newPwd,
		Token:    token,
	})
}

func (api *voterApi) signIn(ctx echo.Context) error {
	var data voter.SignIn
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SignIn")
	}
	if err := data.Validate(api.opts.Validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx.Request().Context(), data.Username, data.Password, api.opts.VoterSvc, api.opts.Conf)
	if err != nil {
		if errors.Cause(err) == errAuthenticationFailed {
			return core.NewValidationError(errors.New("invalid credentials"))
		}
		return err
	}
	token, err := GenerateToken(api.opts.Conf, claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *voterApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.opts.VoterSvc, api.opts.Conf)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *voterApi) createMultiple(ctx echo.Context) error {
	var data voter.NewVoters
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewVoters")
	}

	voters, err := api.opts.VoterSvc.CreateVoters(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating voters")
	}

	// a partial batch is still a 201; the count tells the caller how far it went
	return ctx.JSON(http.StatusCreated, CreateVotersResponse{
		Requested: data.Amount,
		Created:   len(voters),
		Voters:    voters,
	})
}

func (api *voterApi) query(ctx echo.Context) error {
	filter := new(voter.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []voter.Voter{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	voters, err := api.opts.VoterSvc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying voters")
	}
	if voters == nil {
		voters = []voter.Voter{}
	}
	return ctx.JSON(http.StatusOK, voters)
}

func (api *voterApi) retrieve(ctx echo.Context) error {
	vtr, ok := ctx.Get("object").(voter.Voter)
	if !ok {
		return errors.Wrap(errVoterNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, vtr)
}

func (api *voterApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	// ctxVoter cannot delete themselves
	ctxVtr, err := getContextVoter(ctx, api.opts.VoterSvc)
	if err != nil {
		return errors.Wrap(err, "getting context voter")
	}
	sort.Strings(query.IDs)
	if i := sort.SearchStrings(query.IDs, ctxVtr.ID); i < len(query.IDs) {
		if match := query.IDs[i]; ctxVtr.ID == match {
			return errHttpForbidden
		}
	}

	if err := api.opts.VoterSvc.Delete(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting voters")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func ctxVoterOrAdminMiddleware(svc voter.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxVtr, err := getContextVoter(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context voter")
			}

			if ctx.Param("username") == ctxVtr.Username || ctxVtr.IsAdmin {
				if vtr, err := svc.GetByUsername(ctx.Request().Context(), ctx.Param("username")); err == nil {
					ctx.Set("object", vtr)
					return next(ctx)
				} else if errors.Cause(err) != voter.ErrNotFound {
					return errors.Wrap(err, "finding voter by username")
				}
			}
			return errHttpNotFound
		}
	}
}

type (
	TokenResponse struct {
		Token string `json:"token"`
	}

	// EnrollResponse carries the freshly generated password; it is shown to
	// the voter exactly once.
	EnrollResponse struct {
		Voter    voter.Voter `json:"voter"`
		Password string      `json:"password"`
		Token    string      `json:"token"`
	}

	CreateVotersResponse struct {
		Requested int           `json:"requested"`
		Created   int           `json:"created"`
		Voters    []voter.Voter `json:"voters"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)
