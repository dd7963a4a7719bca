package voter

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/openchoicepolls/backend/core"
)

var (
	// errors
	ErrNotFound        = errors.New("voter not found")
	ErrUsernameExists  = errors.New("a voter with this username already exists")
	ErrAlreadyEnrolled = errors.New("enrollment code already enrolled")
	ErrNotEnrolled     = errors.New("account is not yet enrolled")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username string, excludedVoters ...Voter) error
		CreateVoter(ctx context.Context, v Voter) (Voter, error)
		GetVoter(ctx context.Context, filter GetFilter) (Voter, error)
		// QueryVoters applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Voter.Username.
		QueryVoters(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Voter, error)
		UpdateVoter(ctx context.Context, v Voter) (Voter, error)
		DeleteVotersByID(ctx context.Context, ids ...string) (int, error)
	}

	// ParticipationGranter creates an allowed participation for a voter on a
	// question. A missing question is skipped, not an error.
	ParticipationGranter interface {
		GrantParticipation(ctx context.Context, voterID, questionID string) error
	}

	ServiceInterface interface {
		CreateVoters(ctx context.Context, nv NewVoters) ([]Voter, error)
		Enroll(ctx context.Context, ev EnrollVoter) (Voter, string, error)
		Authenticate(ctx context.Context, uname, pwd string) (Voter, error)
		GetByID(ctx context.Context, id string) (Voter, error)
		GetByUsername(ctx context.Context, uname string) (Voter, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Voter, error)
		SetLastLogin(ctx context.Context, v Voter) (Voter, error)
		DistributeCodes(ctx context.Context, to mail.Address) (int, error)
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		repo     Repository
		codes    *CodeGen
		granter  ParticipationGranter
		mailSvc  core.EmailService
		conf     *core.Config
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	codes *CodeGen,
	granter ParticipationGranter,
	mailSvc core.EmailService,
	conf *core.Config,
	validate *validator.Validate,
) *service {
	return &service{
		repo:     repo,
		codes:    codes,
		granter:  granter,
		mailSvc:  mailSvc,
		conf:     conf,
		validate: validate,
	}
}

// CreateVoters bulk-creates voter accounts with the enrollment code as the
// initial credential. Voter numbers are sampled without replacement from the
// configured range. The first username collision stops the batch: the subset
// created so far is returned with a nil error (partial success contract).
func (svc *service) CreateVoters(ctx context.Context, nv NewVoters) ([]Voter, error) {
	if err := nv.Validate(svc.validate); err != nil {
		return nil, err
	}

	nums, err := svc.codes.SampleNumbers(svc.conf.Polls.VoterRangeStart, svc.conf.Polls.VoterRangeEnd, nv.Amount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := make([]Voter, 0, nv.Amount)
	for _, num := range nums {
		code := svc.codes.EnrollmentCode()
		v := Voter{
			Username:       fmt.Sprintf("%s%03d", svc.conf.Polls.VoterPrefix, num),
			IsVoter:        true,
			EnrollmentCode: code,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if nv.CodeValidityDays > 0 {
			v.EnrollmentCodeValidUntil = now.Add(time.Duration(nv.CodeValidityDays) * 24 * time.Hour)
		}
		if err := v.SetPassword(code); err != nil {
			return res, err
		}

		v, err := svc.repo.CreateVoter(ctx, v)
		if err != nil {
			if errors.Cause(err) == ErrUsernameExists {
				break
			}
			return res, errors.Wrap(err, "creating voter")
		}

		if nv.QuestionID != "" {
			if err := svc.granter.GrantParticipation(ctx, v.ID, nv.QuestionID); err != nil {
				return res, errors.Wrap(err, "granting participation")
			}
		}
		res = append(res, v)
	}
	return res, nil
}

// Enroll activates the un-enrolled voter matching the supplied code, replaces
// the code credential with a freshly generated password and returns it. The
// new password is surfaced to the caller exactly once; it is not retrievable
// later.
func (svc *service) Enroll(ctx context.Context, ev EnrollVoter) (Voter, string, error) {
	if err := ev.Validate(svc.validate); err != nil {
		return Voter{}, "", err
	}

	// username-guided lookup takes priority when supplied
	var v Voter
	var err error
	if ev.Username != "" {
		v, err = svc.repo.GetVoter(ctx, GetFilter{Username: ev.Username})
	} else {
		v, err = svc.repo.GetVoter(ctx, GetFilter{EnrollmentCode: ev.EnrollmentCode})
	}
	if err != nil {
		return Voter{}, "", err
	}

	if !v.IsVoter || StripCode(v.EnrollmentCode) != StripCode(ev.EnrollmentCode) {
		return Voter{}, "", ErrNotFound
	}
	// an expired code behaves like an unknown one
	if v.CodeExpired(time.Now().UTC()) {
		return Voter{}, "", ErrNotFound
	}
	if v.IsEnrolled {
		return Voter{}, "", ErrAlreadyEnrolled
	}

	newPwd := svc.codes.Password()
	if err := v.SetPassword(newPwd); err != nil {
		return Voter{}, "", err
	}
	v.IsEnrolled = true
	v.UpdatedAt = time.Now().UTC()

	v, err = svc.repo.UpdateVoter(ctx, v)
	if err != nil {
		return Voter{}, "", errors.Wrap(err, "updating voter")
	}
	return v, newPwd, nil
}

// Authenticate checks credentials. A voter with valid credentials that has not
// enrolled yet fails with ErrNotEnrolled so the caller can be redirected to
// enrollment instead of a generic auth failure.
func (svc *service) Authenticate(ctx context.Context, uname, pwd string) (Voter, error) {
	v, err := svc.repo.GetVoter(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return Voter{}, err
	}
	if err := v.CheckPassword(pwd); err != nil {
		return Voter{}, ErrNotFound
	}
	if v.IsVoter && !v.IsAdmin && !v.IsEnrolled {
		return v, ErrNotEnrolled
	}
	return v, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Voter, error) {
	return svc.repo.GetVoter(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (Voter, error) {
	return svc.repo.GetVoter(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Voter, error) {
	if filter != nil {
		filter.Clean()
		if filter.IsEmpty() {
			filter = nil
		}
	}
	return svc.repo.QueryVoters(ctx, filter, ordering)
}

func (svc *service) SetLastLogin(ctx context.Context, v Voter) (Voter, error) {
	v.LastLogin = time.Now().UTC()
	return svc.repo.UpdateVoter(ctx, v)
}

// DistributeCodes mails the list of not-yet-distributed enrollment codes to
// the given address and marks them distributed. Returns the number of codes
// distributed.
func (svc *service) DistributeCodes(ctx context.Context, to mail.Address) (int, error) {
	distributed := false
	voters, err := svc.repo.QueryVoters(ctx, &QueryFilter{IsDistributed: &distributed}, []core.DBOrdering{{Field: "username", Ascending: true}})
	if err != nil {
		return 0, errors.Wrap(err, "querying voters")
	}
	if len(voters) == 0 {
		return 0, nil
	}

	var body strings.Builder
	for _, v := range voters {
		fmt.Fprintf(&body, "%s: %s\n", v.Username, v.EnrollmentCode)
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{to},
		Subject: "Enrollment codes",
		BodyStr: body.String(),
	})

	now := time.Now().UTC()
	for _, v := range voters {
		v.EnrollmentCodeDistributed = true
		v.UpdatedAt = now
		if _, err := svc.repo.UpdateVoter(ctx, v); err != nil {
			return 0, errors.Wrap(err, "marking code distributed")
		}
	}
	return len(voters), nil
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteVotersByID(ctx, ids...)
	return err
}
