package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
	emailsvc "github.com/openchoicepolls/backend/services/email"
	inmemdb "github.com/openchoicepolls/backend/storage/database/inmem"
	testutil "github.com/openchoicepolls/backend/tests"
)

var (
	voterRepo voter.Repository
	pollSvc   poll.ServiceInterface
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()

	// set up in-memory store & services
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	conf := testutil.NewConfig()
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	pollRepo := inmemdb.NewPollRepository(db)
	pollSvc = poll.NewService(pollRepo, poll.NewParticipationLedger(pollRepo), validate)

	voterRepo = inmemdb.NewVoterRepository(db)
	codes := voter.NewCodeGen(rand.NewSource(42))
	voterSvc := voter.NewService(voterRepo, codes, pollSvc, emailsvc.NewConsoleServiceMock(conf), conf, validate)

	// start CLI
	var out bytes.Buffer
	cli := &commandLine{
		out:       &out,
		voterRepo: voterRepo,
		voterSvc:  voterSvc,
	}
	return cli, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "question", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)

	vtr := testutil.CreateVoter(t, voterRepo, "voter-042", "mdr", "ABCDE-2345-abcde", true, false)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "voter not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "str0ng-Pass"}, wantErr: voter.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-username", vtr.Username}, extra: extra{pwd: "str0ng-Pass"}},
		{name: "reset with mixed case", args: []string{"resetpassword", "-username", strings.ToUpper(vtr.Username)}, extra: extra{pwd: "an0ther-Pass"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshed, err := voterRepo.GetVoter(context.Background(), voter.GetFilter{ID: vtr.ID})
				if err != nil {
					t.Fatalf("GetVoter() failed, %v", err)
				}
				if bytes.Equal(refreshed.PasswordHash, vtr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	for name, pwd := range map[string]string{
		"too short":           "lol",
		"entirely numeric":    "234567892345",
		"similar to username": "Voter-0422",
	} {
		t.Run("policy: "+name, func(t *testing.T) {
			readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }

			err := cli.run([]string{"admin", "resetpassword", "-username", vtr.Username})
			if _, ok := err.(*core.ValidationError); !ok {
				t.Errorf("cli.run() error = %v, want a password policy error", err)
			}
		})
	}
}

func Test_commandLine_createVoters(t *testing.T) {
	cli, out := setup(t)

	if err := cli.run([]string{"admin", "createvoters", "-amount", "3"}); err != nil {
		t.Fatalf("cli.run() failed: %v", err)
	}

	output := out.String()
	if got := strings.Count(output, "Voter: voter-"); got != 3 {
		t.Errorf("expected 3 voter lines, got %d:\n%s", got, output)
	}
	if !strings.Contains(output, "Successfully created 3 voter(s)") {
		t.Errorf("missing success message:\n%s", output)
	}

	voters, err := voterRepo.QueryVoters(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("QueryVoters() failed: %v", err)
	}
	if len(voters) != 3 {
		t.Errorf("expected 3 voters in store, got %d", len(voters))
	}
}

func Test_commandLine_createVoters_grantsParticipation(t *testing.T) {
	cli, out := setup(t)

	q, err := pollSvc.CreateQuestion(context.Background(), poll.NewQuestion{Text: "Favorite color?"})
	if err != nil {
		t.Fatalf("CreateQuestion() failed: %v", err)
	}

	if err := cli.run([]string{"admin", "createvoters", "-amount", "2", "-question", q.ID}); err != nil {
		t.Fatalf("cli.run() failed: %v", err)
	}
	if !strings.Contains(out.String(), "Successfully created 2 voter(s)") {
		t.Errorf("missing success message:\n%s", out.String())
	}

	voters, err := voterRepo.QueryVoters(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("QueryVoters() failed: %v", err)
	}
	for _, v := range voters {
		if _, err := pollSvc.GetParticipation(context.Background(), v.ID, q.ID); err != nil {
			t.Errorf("voter %s has no participation: %v", v.Username, err)
		}
	}
}

func Test_commandLine_distributeCodes(t *testing.T) {
	cli, out := setup(t)

	if err := cli.run([]string{"admin", "distributecodes"}); err != errHelp {
		t.Errorf("cli.run() error = %v, wantErr %v", err, errHelp)
	}
	if err := cli.run([]string{"admin", "distributecodes", "-to", "not-an-email"}); err == nil {
		t.Error("expected an invalid address error")
	}

	if err := cli.run([]string{"admin", "distributecodes", "-to", "organizer@test.cd"}); err != nil {
		t.Fatalf("cli.run() failed: %v", err)
	}
	if !strings.Contains(out.String(), "No undistributed enrollment codes.") {
		t.Errorf("missing empty message:\n%s", out.String())
	}

	out.Reset()
	if err := cli.run([]string{"admin", "createvoters", "-amount", "2"}); err != nil {
		t.Fatalf("cli.run() failed: %v", err)
	}
	out.Reset()
	if err := cli.run([]string{"admin", "distributecodes", "-to", "organizer@test.cd"}); err != nil {
		t.Fatalf("cli.run() failed: %v", err)
	}
	if !strings.Contains(out.String(), "Distributed 2 enrollment code(s) to organizer@test.cd") {
		t.Errorf("missing distribution message:\n%s", out.String())
	}
}
