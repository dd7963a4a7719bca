package tests

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/openchoicepolls/backend/api/echo"
	"github.com/openchoicepolls/backend/core"
	"github.com/openchoicepolls/backend/core/poll"
	"github.com/openchoicepolls/backend/core/voter"
	emailsvc "github.com/openchoicepolls/backend/services/email"
	inmemdb "github.com/openchoicepolls/backend/storage/database/inmem"
	testutil "github.com/openchoicepolls/backend/tests"
)

var (
	conf      *core.Config
	voterRepo voter.Repository
	pollRepo  poll.Repository
	voterSvc  voter.ServiceInterface
	pollSvc   poll.ServiceInterface

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func setup(t *testing.T) Server {
	t.Helper()

	// set up store & repos
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	conf = testutil.NewConfig()
	conf.Debug = false
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	// set up services
	pollRepo = inmemdb.NewPollRepository(db)
	pollSvc = poll.NewService(pollRepo, poll.NewParticipationLedger(pollRepo), validate)

	voterRepo = inmemdb.NewVoterRepository(db)
	codes := voter.NewCodeGen(rand.NewSource(42))
	voterSvc = voter.NewService(voterRepo, codes, pollSvc, emailsvc.NewConsoleServiceMock(conf), conf, validate)

	// set up server
	return NewServer(
		&Options{
			Conf:           conf,
			Logger:         noopLogger{},
			DisableReqLogs: true,
			VoterSvc:       voterSvc,
			PollSvc:        pollSvc,
			Validate:       validate,
			Translator:     translator,
		},
	)
}

type noopLogger struct{}

func (noopLogger) Enable(enabled bool)                   {}
func (noopLogger) Debug(msg string, args ...interface{}) {}
func (noopLogger) Info(msg string, args ...interface{})  {}
func (noopLogger) Warn(msg string, args ...interface{})  {}
func (noopLogger) Error(msg string, args ...interface{}) {}
func (noopLogger) Fatal(msg string, args ...interface{}) {}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, vtr voter.Voter) string {
	claims := GetVoterClaims(conf, vtr)
	token, err := GenerateToken(conf, claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

// nolint
func marchallList(t *testing.T, objs ...interface{}) []byte {
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
