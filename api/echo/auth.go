package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/voter"
)

const (
	contextTokenKey = "voterToken"
	contextVoterKey = "voter"
)

// newAppJWTConfig returns the JWT auth middleware config.
func newAppJWTConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
}

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email,omitempty"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
	IsVoter      bool   `json:"is_voter,omitempty"`
	IsEnrolled   bool   `json:"is_enrolled,omitempty"`
}

func GetVoterClaims(conf *core.Config, vtr voter.Voter, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   vtr.ID,
			Audience:  "Polls",
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     vtr.Username,
		Email:        vtr.Email,
		IsAdmin:      vtr.IsAdmin,
		IsVoter:      vtr.IsVoter,
		IsEnrolled:   vtr.IsEnrolled,
	}
}

func authenticate(ctx context.Context, uname, pwd string, svc voter.ServiceInterface, conf *core.Config) (*Claims, error) {
	vtr, err := svc.Authenticate(ctx, uname, pwd)
	if err != nil {
		switch errors.Cause(err) {
		case voter.ErrNotFound:
			return nil, errAuthenticationFailed
		case voter.ErrNotEnrolled:
			return nil, errNotEnrolled
		}
		return nil, errors.Wrap(err, "authenticating voter")
	}
	vtr, err = svc.SetLastLogin(ctx, vtr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return GetVoterClaims(conf, vtr), nil
}

// GenerateToken generates a signed JWT token string representing the voter Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextVoter(ctx echo.Context, svc voter.ServiceInterface, clms ...Claims) (voter.Voter, error) {
	if vtr, ok := ctx.Get(contextVoterKey).(voter.Voter); ok {
		return vtr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return voter.Voter{}, errors.Wrap(err, "getting context claims")
		}
	}

	vtr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return voter.Voter{}, errors.Wrap(err, "finding voter by ID")
	}
	ctx.Set(contextVoterKey, vtr)
	return vtr, nil
}

func refreshToken(ctx echo.Context, svc voter.ServiceInterface, conf *core.Config) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	vtr, err := getContextVoter(ctx, svc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context voter")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := GetVoterClaims(conf, vtr, claims.OrigIssuedAt)
	token, err := GenerateToken(conf, newClaims)
	return token, errors.Wrap(err, "generating token")
}
