package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	. "github.com/trezcool/suriaral/apps/api/echo"
	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/accesscode"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/faculty"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	emailsvc "github.com/trezcool/suriaral/services/email"
	"github.com/trezcool/suriaral/storage/kv/memstore"
	testutil "github.com/trezcool/suriaral/tests"
)

const pwd = "Tr0ub4dor&3"

var errMissingToken = httpErr{Error: "missing or malformed token"}

type env struct {
	app      Server
	deps     *Deps
	idp      *identity.LocalProvider
	pub      *testutil.Publisher
	logger   *testutil.Logger
	sessions *authz.Sessions
}

func setup(t *testing.T) *env {
	t.Helper()
	conf := testutil.NewConfig()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	access.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)
	accesscode.InitValidators(validate, translator)

	store := memstore.New()
	logger := testutil.NewLogger()
	pub := new(testutil.Publisher)

	profiles := profile.NewStore(store, validate)
	facultyRepo := faculty.NewRepository(store, validate)
	idp := identity.NewLocalProvider(store, validate)
	gate := accesscode.NewGate(store, validate, pub, logger)
	sessions := authz.NewSessions(profiles, conf.Access.RoleResolveTimeout, logger)
	t.Cleanup(sessions.Close)

	deps := &Deps{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Tokens:     identity.NewTokens(conf),
		Identity:   idp,
		Profiles:   profiles,
		Faculty:    facultyRepo,
		Sessions:   sessions,
		CodeGate:   gate,
		AccountSvc: account.NewService(
			profiles, facultyRepo, gate, idp, validate, pub, emailsvc.NewConsoleServiceMock(conf), logger,
		),
	}
	return &env{
		app:      NewServer("", nil /* shutdown */, deps),
		deps:     deps,
		idp:      idp,
		pub:      pub,
		logger:   logger,
		sessions: sessions,
	}
}

// newAccount creates an identity with its profile and returns them with a fresh token.
func (e *env) newAccount(t *testing.T, name string, role access.Role, schoolID string, disabled ...bool) (profile.Profile, string) {
	t.Helper()
	ctx := context.Background()
	ident, err := e.deps.Identity.Create(ctx, identity.NewAccount{
		Email:       name + "@school.test",
		Password:    pwd,
		DisplayName: name,
	})
	require.NoError(t, err)

	p := profile.Profile{
		UID:         ident.UID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		Disabled:    len(disabled) > 0 && disabled[0],
	}
	if schoolID != "" {
		p.SchoolID = null.StringFrom(schoolID)
	}
	require.NoError(t, e.deps.Profiles.Set(ctx, p))

	token, err := e.deps.Tokens.Issue(ident)
	require.NoError(t, err)
	return p, token
}

func (e *env) serve(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	e.app.ServeHTTP(rec, req)
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
	return req, httptest.NewRecorder()
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData != nil {
		assert.JSONEq(t, string(tt.wantData), rec.Body.String())
	}
}

func runHTTPTests(t *testing.T, e *env, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			checkCodeAndData(t, tt, e.serve(method, tt.path, tt.token, tt.body))
		})
	}
}
