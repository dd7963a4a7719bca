package poll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	inmemdb "github.com/openchoicepolls/backend/storage/database/inmem"
	testutil "github.com/openchoicepolls/backend/tests"
)

func setup(t *testing.T) (poll.Repository, poll.ServiceInterface) {
	t.Helper()

	db, err := inmemdb.Open()
	require.NoError(t, err)

	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	repo := inmemdb.NewPollRepository(db)
	svc := poll.NewService(repo, poll.NewParticipationLedger(repo), validate)
	return repo, svc
}

func activeWindow() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestService_CreateQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		_, svc := setup(t)

		q, err := svc.CreateQuestion(ctx, poll.NewQuestion{Text: "Favorite color?"})
		require.NoError(t, err)

		assert.Equal(t, 1, q.Number)
		assert.Equal(t, "favorite-color", q.Slug)
		assert.True(t, q.IsVisible)
		assert.True(t, q.ShowChoicesApproved)
		assert.True(t, q.ShowVotingResults)
		assert.Equal(t, 5, q.VotesPerSession)
	})

	t.Run("explicit flags kept", func(t *testing.T) {
		_, svc := setup(t)
		hidden := false

		q, err := svc.CreateQuestion(ctx, poll.NewQuestion{
			Text:            "Hidden question",
			IsVisible:       &hidden,
			VotesPerSession: 3,
		})
		require.NoError(t, err)
		assert.False(t, q.IsVisible)
		assert.Equal(t, 3, q.VotesPerSession)
	})

	t.Run("sequential numbers", func(t *testing.T) {
		_, svc := setup(t)

		for want := 1; want <= 5; want++ {
			q, err := svc.CreateQuestion(ctx, poll.NewQuestion{Text: "Q" + string(rune('a'+want))})
			require.NoError(t, err)
			assert.Equal(t, want, q.Number)
		}
	})

	t.Run("concurrent numbers are gapless and unique", func(t *testing.T) {
		_, svc := setup(t)
		const n = 20

		var wg sync.WaitGroup
		numbers := make(chan int, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q, err := svc.CreateQuestion(ctx, poll.NewQuestion{Text: "Race " + string(rune('a'+i))})
				if assert.NoError(t, err) {
					numbers <- q.Number
				}
			}(i)
		}
		wg.Wait()
		close(numbers)

		seen := make(map[int]bool, n)
		for num := range numbers {
			assert.False(t, seen[num], "number %d assigned twice", num)
			seen[num] = true
		}
		for want := 1; want <= n; want++ {
			assert.True(t, seen[want], "number %d missing", want)
		}
	})
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)

	hidden := false
	for _, nq := range []poll.NewQuestion{
		{Text: "Favorite color?"},
		{Text: "Favorite season?"},
		{Text: "Secret ballot", IsVisible: &hidden},
	} {
		_, err := svc.CreateQuestion(ctx, nq)
		require.NoError(t, err)
	}

	t.Run("empty filter returns everything", func(t *testing.T) {
		questions, err := svc.Query(ctx, &poll.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.Len(t, questions, 3)
	})

	t.Run("whitespace-only search is treated as empty", func(t *testing.T) {
		questions, err := svc.Query(ctx, &poll.QueryFilter{Search: "   "}, nil)
		require.NoError(t, err)
		assert.Len(t, questions, 3)
	})

	t.Run("search is cleaned before matching", func(t *testing.T) {
		questions, err := svc.Query(ctx, &poll.QueryFilter{Search: "  color "}, nil)
		require.NoError(t, err)
		require.Len(t, questions, 1)
		assert.Equal(t, "Favorite color?", questions[0].Text)
	})

	t.Run("visibility filter", func(t *testing.T) {
		visible := true
		questions, err := svc.Query(ctx, &poll.QueryFilter{IsVisible: &visible}, nil)
		require.NoError(t, err)
		assert.Len(t, questions, 2)
	})
}

func TestService_SubmitChoice(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes text", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)

		c, err := svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "  Blue   Sky  "}, false)
		require.NoError(t, err)
		assert.Equal(t, "Blue Sky", c.Text)
		assert.Equal(t, "blue-sky", c.Slug)
		assert.Equal(t, poll.ReviewOpen, c.ReviewStatus)
		assert.Equal(t, 0, c.Votes)
	})

	t.Run("duplicate by slug", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)

		_, err := svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "Navy Blue"}, false)
		require.NoError(t, err)

		// exact duplicate and slug-equal variant are both rejected
		for _, text := range []string{"Navy Blue", "  navy   blue "} {
			_, err = svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: text}, false)
			require.Error(t, err, "text %q", text)
			vErr, ok := err.(*core.ValidationError)
			require.True(t, ok)
			assert.Equal(t, "this suggestion already exists", vErr.Fields[0].Error)
		}
	})

	t.Run("same text allowed on another question", func(t *testing.T) {
		repo, svc := setup(t)
		q1 := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		q2 := testutil.CreateQuestion(t, repo, "Best sky?", 5)

		_, err := svc.SubmitChoice(ctx, q1.ID, poll.NewChoice{Text: "Blue"}, false)
		require.NoError(t, err)
		_, err = svc.SubmitChoice(ctx, q2.ID, poll.NewChoice{Text: "Blue"}, false)
		assert.NoError(t, err)
	})

	t.Run("collection gated", func(t *testing.T) {
		repo, svc := setup(t)
		now := time.Now().UTC()
		q, err := repo.CreateQuestion(ctx, poll.Question{
			Text:            "Closed question",
			Slug:            "closed-question",
			CollectionStart: now.Add(-2 * time.Hour),
			CollectionEnd:   now.Add(-time.Hour),
			VotesPerSession: 5,
		})
		require.NoError(t, err)

		_, err = svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "Too late"}, false)
		assert.Equal(t, poll.ErrCollectionNotActive, err)

		// admins may add choices any time
		_, err = svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "Admin choice"}, true)
		assert.NoError(t, err)
	})

	t.Run("validation regex", func(t *testing.T) {
		repo, svc := setup(t)
		start, end := activeWindow()
		q, err := repo.CreateQuestion(ctx, poll.Question{
			Text:                  "Name a mountain",
			Slug:                  "name-a-mountain",
			CollectionStart:       start,
			CollectionEnd:         end,
			ChoiceValidationRegex: `^Mount\s[A-Z][a-z]+$`,
			ChoiceValidationHint:  "must be of the form 'Mount Xyz'",
			VotesPerSession:       5,
		})
		require.NoError(t, err)

		_, err = svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "everest"}, false)
		require.Error(t, err)
		vErr, ok := err.(*core.ValidationError)
		require.True(t, ok)
		assert.Equal(t, "must be of the form 'Mount Xyz'", vErr.Fields[0].Error)

		_, err = svc.SubmitChoice(ctx, q.ID, poll.NewChoice{Text: "Mount Everest"}, false)
		assert.NoError(t, err)
	})

	t.Run("unknown question", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.SubmitChoice(ctx, "nope", poll.NewChoice{Text: "Blue"}, false)
		assert.Equal(t, poll.ErrNotFound, err)
	})
}

func TestService_ReviewChoices(t *testing.T) {
	ctx := context.Background()

	t.Run("approve one", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c := testutil.CreateChoice(t, repo, q.ID, "Blue", poll.ReviewOpen)

		res, err := svc.ReviewChoices(ctx, poll.ReviewAction{IDs: []string{c.ID}, Action: poll.ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count)
		assert.Equal(t, "1 choice was successfully approved.", res.Message)

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, poll.ReviewApproved, got.ReviewStatus)
	})

	t.Run("reject several with remark", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c1 := testutil.CreateChoice(t, repo, q.ID, "Blue", poll.ReviewOpen)
		c2 := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewOpen)

		res, err := svc.ReviewChoices(ctx, poll.ReviewAction{
			IDs:    []string{c1.ID, c2.ID},
			Action: poll.ActionReject,
			Remark: "off topic",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
		assert.Equal(t, "2 choices were successfully rejected.", res.Message)

		got, err := repo.GetChoice(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, poll.ReviewRejected, got.ReviewStatus)
		assert.Equal(t, "off topic", got.ReviewRemark)
	})

	t.Run("reset review status", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c := testutil.CreateChoice(t, repo, q.ID, "Blue", poll.ReviewApproved)

		res, err := svc.ReviewChoices(ctx, poll.ReviewAction{IDs: []string{c.ID}, Action: poll.ActionReset})
		require.NoError(t, err)
		assert.Equal(t, "Review status of 1 choice was successfully reset.", res.Message)

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, poll.ReviewOpen, got.ReviewStatus)
	})

	t.Run("reset votes", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c := testutil.CreateChoice(t, repo, q.ID, "Blue", poll.ReviewApproved)
		_, err := repo.IncrementChoiceVotes(ctx, q.ID, c.ID)
		require.NoError(t, err)

		res, err := svc.ReviewChoices(ctx, poll.ReviewAction{IDs: []string{c.ID}, Action: poll.ActionResetVotes})
		require.NoError(t, err)
		assert.Equal(t, "Votes of 1 choice was successfully reset.", res.Message)

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Votes)
	})

	t.Run("unknown ids count as unaffected", func(t *testing.T) {
		_, svc := setup(t)

		res, err := svc.ReviewChoices(ctx, poll.ReviewAction{IDs: []string{"nope"}, Action: poll.ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Count)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, svc := setup(t)

		_, err := svc.ReviewChoices(ctx, poll.ReviewAction{IDs: []string{"x"}, Action: "explode"})
		assert.Error(t, err)
	})
}

func TestService_CastVote(t *testing.T) {
	ctx := context.Background()

	grant := func(t *testing.T, repo poll.Repository, voterID, questionID string) {
		t.Helper()
		_, err := repo.GrantParticipation(ctx, voterID, questionID)
		require.NoError(t, err)
	}

	t.Run("approved choice tallies", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)
		grant(t, repo, "v1", q.ID)

		res, err := svc.CastVote(ctx, q.ID, c.ID, "v1")
		require.NoError(t, err)
		assert.True(t, res.Tallied)

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Votes)

		p, err := repo.GetParticipation(ctx, "v1", q.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.VotesCast)
	})

	t.Run("voting phase gate", func(t *testing.T) {
		repo, svc := setup(t)
		now := time.Now().UTC()
		q, err := repo.CreateQuestion(ctx, poll.Question{
			Text:            "Not yet",
			Slug:            "not-yet",
			VotingStart:     now.Add(time.Hour),
			VotingEnd:       now.Add(2 * time.Hour),
			VotesPerSession: 5,
		})
		require.NoError(t, err)
		c := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)
		grant(t, repo, "v1", q.ID)

		_, err = svc.CastVote(ctx, q.ID, c.ID, "v1")
		assert.Equal(t, poll.ErrVoteNotActive, err)
	})

	t.Run("no participation", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		c := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)

		_, err := svc.CastVote(ctx, q.ID, c.ID, "stranger")
		assert.Equal(t, poll.ErrNotAllowed, err)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 2)
		c := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)
		grant(t, repo, "v1", q.ID)

		for i := 0; i < 2; i++ {
			_, err := svc.CastVote(ctx, q.ID, c.ID, "v1")
			require.NoError(t, err)
		}

		_, err := svc.CastVote(ctx, q.ID, c.ID, "v1")
		assert.Equal(t, poll.ErrAllVotesUsed, err)

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Votes)
	})

	t.Run("unknown choice", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		grant(t, repo, "v1", q.ID)

		_, err := svc.CastVote(ctx, q.ID, "nope", "v1")
		assert.Equal(t, poll.ErrNotFound, err)
	})

	t.Run("choice of another question", func(t *testing.T) {
		repo, svc := setup(t)
		q1 := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		q2 := testutil.CreateQuestion(t, repo, "Best sky?", 5)
		c2 := testutil.CreateChoice(t, repo, q2.ID, "Blue", poll.ReviewApproved)
		grant(t, repo, "v1", q1.ID)

		_, err := svc.CastVote(ctx, q1.ID, c2.ID, "v1")
		assert.Equal(t, poll.ErrNotFound, err)
	})

	t.Run("non-approved choice is a silent no-op", func(t *testing.T) {
		repo, svc := setup(t)
		q := testutil.CreateQuestion(t, repo, "Favorite color?", 5)
		grant(t, repo, "v1", q.ID)

		for _, status := range []string{poll.ReviewOpen, poll.ReviewRejected} {
			c := testutil.CreateChoice(t, repo, q.ID, "Choice "+status, status)

			res, err := svc.CastVote(ctx, q.ID, c.ID, "v1")
			require.NoError(t, err, "status %s", status)
			assert.False(t, res.Tallied)

			got, err := repo.GetChoice(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Votes)
		}

		// the quota was not consumed either
		p, err := repo.GetParticipation(ctx, "v1", q.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, p.VotesCast)
	})

	t.Run("concurrent votes are not lost", func(t *testing.T) {
		repo, svc := setup(t)
		const voters = 16
		const quota = 3

		q := testutil.CreateQuestion(t, repo, "Favorite color?", quota)
		c := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)
		for i := 0; i < voters; i++ {
			grant(t, repo, string(rune('a'+i)), q.ID)
		}

		var wg sync.WaitGroup
		for i := 0; i < voters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < quota; j++ {
					_, err := svc.CastVote(ctx, q.ID, c.ID, string(rune('a'+i)))
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		got, err := repo.GetChoice(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, voters*quota, got.Votes)
	})
}

func TestService_Results(t *testing.T) {
	ctx := context.Background()
	repo, svc := setup(t)

	q := testutil.CreateQuestion(t, repo, "Favorite color?", 10)
	red := testutil.CreateChoice(t, repo, q.ID, "Red", poll.ReviewApproved)
	blue := testutil.CreateChoice(t, repo, q.ID, "Blue", poll.ReviewApproved)
	testutil.CreateChoice(t, repo, q.ID, "Pending", poll.ReviewOpen)
	testutil.CreateChoice(t, repo, q.ID, "Junk", poll.ReviewRejected)

	grant := func(voterID string) {
		_, err := repo.GrantParticipation(ctx, voterID, q.ID)
		require.NoError(t, err)
	}
	vote := func(voterID, choiceID string, n int) {
		for i := 0; i < n; i++ {
			_, err := svc.CastVote(ctx, q.ID, choiceID, voterID)
			require.NoError(t, err)
		}
	}
	grant("v1")
	grant("v2")
	vote("v1", blue.ID, 2)
	vote("v2", blue.ID, 1)
	vote("v1", red.ID, 1)

	results, err := svc.Results(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, results, 2, "only approved choices in results")
	assert.Equal(t, "Blue", results[0].Text)
	assert.Equal(t, 3, results[0].Votes)
	assert.Equal(t, "Red", results[1].Text)
	assert.Equal(t, 1, results[1].Votes)

	total, err := svc.TotalVotes(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	approved, err := svc.TotalApprovedChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, approved)

	all, err := svc.TotalChoices(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, all)
}
