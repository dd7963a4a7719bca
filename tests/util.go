package testutil

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
)

// NewConfig returns a self-contained test configuration; nothing is read from
// the environment.
func NewConfig() *core.Config {
	return &core.Config{
		Debug:     true,
		TestMode:  true,
		Env:       "TEST",
		AppName:   "OpenChoicePolls",
		SecretKey: "test-secret-key",
		DefaultFromEmail: mail.Address{
			Name:    "OpenChoicePolls",
			Address: "noreply@test.cd",
		},
		Server: core.ServerConfig{
			Port:                      "8000",
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Polls: core.PollsConfig{
			VoterPrefix:     "voter-",
			VoterRangeStart: 100,
			VoterRangeEnd:   1000,
			VoteLedger:      "participation",
		},
	}
}

func CreateVoter(
	t *testing.T,
	repo voter.Repository,
	uname, pwd, code string,
	isEnrolled, isAdmin bool,
) voter.Voter {
	t.Helper()

	now := time.Now().UTC()
	vtr := voter.Voter{
		Username:       uname,
		IsAdmin:        isAdmin,
		IsVoter:        !isAdmin,
		IsEnrolled:     isEnrolled,
		EnrollmentCode: code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if pwd != "" {
		if err := vtr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateVoter() failed: %v", err)
		}
	}
	vtr, err := repo.CreateVoter(context.Background(), vtr)
	if err != nil {
		t.Fatalf("CreateVoter() failed: %v", err)
	}
	return vtr
}

// CreateQuestion persists a question with both phases open for the next hour.
func CreateQuestion(t *testing.T, repo poll.Repository, text string, votesPerSession int) poll.Question {
	t.Helper()

	now := time.Now().UTC()
	q, err := repo.CreateQuestion(context.Background(), poll.Question{
		Text:                text,
		Slug:                core.Slugify(text),
		CollectionStart:     now.Add(-time.Hour),
		CollectionEnd:       now.Add(time.Hour),
		VotingStart:         now.Add(-time.Hour),
		VotingEnd:           now.Add(time.Hour),
		IsVisible:           true,
		ShowChoicesApproved: true,
		ShowChoicesOpen:     true,
		ShowChoicesRejected: true,
		ShowVotingResults:   true,
		VotesPerSession:     votesPerSession,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		t.Fatalf("CreateQuestion() failed: %v", err)
	}
	return q
}

func CreateChoice(t *testing.T, repo poll.Repository, questionID, text, status string) poll.Choice {
	t.Helper()

	now := time.Now().UTC()
	c, err := repo.CreateChoice(context.Background(), poll.Choice{
		QuestionID:   questionID,
		Text:         text,
		Slug:         core.Slugify(text),
		ReviewStatus: status,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateChoice() failed: %v", err)
	}
	return c
}
