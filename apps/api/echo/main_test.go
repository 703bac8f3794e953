package echoapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/portal/apps/api/echo"
	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/finance"
	"github.com/trezcool/portal/core/meeting"
	"github.com/trezcool/portal/core/training"
	"github.com/trezcool/portal/core/user"
	emailsvc "github.com/trezcool/portal/services/email"
	logsvc "github.com/trezcool/portal/services/logger"
	storagesvc "github.com/trezcool/portal/services/storage"
	throttlesvc "github.com/trezcool/portal/services/throttle"
	sqlxrepos "github.com/trezcool/portal/storage/database/sqlx"
	testutil "github.com/trezcool/portal/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	echoapi.Server

	conf     *core.Config
	db       *sqlx.DB
	usrRepo  user.Repository
	mtgRepo  meeting.Repository
	finRepo  finance.Repository
	trnRepo  training.Repository
	mail     *emailsvc.ConsoleServiceMock
	storage  *storagesvc.MemoryStorage
	throttle *throttlesvc.MemoryThrottle
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := testutil.NewConfig(t)

	// set up DB & repos
	db := testutil.PrepareDB(t)
	app := &testApp{
		conf:     conf,
		db:       db,
		usrRepo:  sqlxrepos.NewUserRepository(db),
		mtgRepo:  sqlxrepos.NewMeetingRepository(db),
		finRepo:  sqlxrepos.NewFinanceRepository(db),
		trnRepo:  sqlxrepos.NewTrainingRepository(db),
		mail:     emailsvc.NewConsoleServiceMock(testutil.EmailTemplates(t, conf), conf),
		storage:  storagesvc.NewMemoryStorage("http://files.test", conf.Storage.SignedURLExpiration),
		throttle: throttlesvc.NewMemoryThrottle(conf.Login.MaxAttempts, conf.Login.Lockout),
	}

	// set up services
	usrSvc := user.NewService(db, app.usrRepo, app.mail, conf)

	// set up server
	validate, translator := testutil.NewValidator(t)
	app.Server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:           conf,
		Logger:         logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf),
		Validate:       validate,
		Translator:     translator,
		Storage:        app.storage,
		Throttle:       app.throttle,
		UserSvc:        usrSvc,
		MeetingSvc:     meeting.NewService(db, app.mtgRepo, usrSvc, app.mail),
		FinanceSvc:     finance.NewService(db, app.finRepo, usrSvc),
		TrainingSvc:    training.NewService(db, app.trnRepo, usrSvc),
		DisableReqLogs: true,
	})
	return app
}

func (app *testApp) createUser(t *testing.T, name, email string, profile user.Role, isActive ...bool) user.User {
	t.Helper()
	active := true
	if len(isActive) > 0 {
		active = isActive[0]
	}
	return testutil.CreateUser(t, app.usrRepo, name, email, name+"001", testutil.Password, profile, active)
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(app.conf, usr), app.conf.JWT.PrivateKey)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

// do serves tt and returns the recorded response.
func (app *testApp) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	app.ServeHTTP(rec, req)
	return rec
}

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

// newUploadRequest builds a multipart request carrying content as the `file` field.
func newUploadRequest(t *testing.T, path, token, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() failed: %v", err)
	}
	if _, err = part.Write(content); err != nil {
		t.Fatalf("part.Write() failed: %v", err)
	}
	if err = w.Close(); err != nil {
		t.Fatalf("w.Close() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

// unmarshal decodes the response body into dest.
func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code; body %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
