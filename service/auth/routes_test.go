package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iemontine/microblog/apperr"
	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/Iemontine/microblog/service/avatar"
	"github.com/Iemontine/microblog/service/user"
	"github.com/Iemontine/microblog/store"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	profiles map[string]*Profile
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*Profile, error) {
	if profile, ok := p.profiles[code]; ok {
		return profile, nil
	}
	return nil, apperr.New(apperr.UpstreamProvider, "invalid_grant")
}

func newServer(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return newServerOver(t, mem, mem.Accounts()), mem
}

// failingCreate refuses every new account with a storage error.
type failingCreate struct {
	store.AccountStore
}

func (failingCreate) Create(context.Context, string, string, string) (*models.Account, error) {
	return nil, apperr.New(apperr.StorageIO, "disk full")
}

func newServerOver(t *testing.T, mem *store.Memory, accounts store.AccountStore) http.Handler {
	t.Helper()
	gen, err := avatar.NewGenerator(filepath.Join(t.TempDir(), "images"), "/images", avatar.DefaultSize)
	require.NoError(t, err)

	users := user.NewService(accounts, mem.Posts(), gen, nil)
	sessions := utils.NewSessionManager("test-secret", time.Hour, false)
	provider := &fakeProvider{profiles: map[string]*Profile{
		"ellen":  {Subject: "google-ellen", Name: "Ellen", Email: "ellen@example.com"},
		"course": {Subject: "google-course", Name: "Course Assist", Email: "course@example.com"},
		"newbie": {Subject: "google-newbie", Name: "New Bie"},
	}}

	router := mux.NewRouter()
	router.Use(sessions.Middleware)
	NewHandler(sessions, provider, users).RegisterRoutes(router)
	user.NewHandler(users).RegisterRoutes(router)
	return router
}

// browser replays the session cookie between requests.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h}
}

func (b *browser) do(method, path, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name != utils.SessionCookieName {
			continue
		}
		if c.MaxAge < 0 {
			b.cookie = nil
		} else {
			b.cookie = c
		}
	}
	return rec
}

// begin starts a login or registration and returns the OAuth state.
func (b *browser) begin(path, body string) string {
	b.t.Helper()
	rec := b.do(http.MethodPost, path, body)
	require.Equal(b.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(b.t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(b.t, state)
	return state
}

func (b *browser) callback(code, state string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, "/auth/google/callback?code="+code+"&state="+url.QueryEscape(state), "")
}

func (b *browser) me() (int, string) {
	rec := b.do(http.MethodGet, "/me", "")
	if rec.Code != http.StatusOK {
		return rec.Code, ""
	}
	var account struct {
		Username string `json:"username"`
	}
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &account))
	return rec.Code, account.Username
}

func TestRegister_ChosenUsernameCreatesAccount(t *testing.T) {
	srv, mem := newServer(t)
	b := newBrowser(t, srv)

	state := b.begin("/register", `{"username":"Ellen958"}`)
	rec := b.callback("ellen", state)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"created"`)

	code, name := b.me()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ellen958", name)

	account, err := mem.Accounts().FindByIdentityKeyHash(context.Background(), HashIdentity("google-ellen"))
	require.NoError(t, err)
	assert.Equal(t, "Ellen958", account.Username)
	assert.True(t, account.HasAvatar())

	rec = b.do(http.MethodPost, "/register/complete", `{"username":"Again"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "resolved attempts carry no provider data")
}

func TestRegister_TakenUsernameRejectedUpFront(t *testing.T) {
	srv, _ := newServer(t)

	first := newBrowser(t, srv)
	first.callback("ellen", first.begin("/register", `{"username":"Ellen958"}`))

	second := newBrowser(t, srv)
	rec := second.do(http.MethodPost, "/register", `{"username":"Ellen958"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = second.do(http.MethodPost, "/register", `{"username":"no spaces allowed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_RaceLosesWithConflictThenRetries(t *testing.T) {
	srv, _ := newServer(t)
	first := newBrowser(t, srv)
	second := newBrowser(t, srv)

	firstState := first.begin("/register", `{"username":"Ellen958"}`)
	secondState := second.begin("/register", `{"username":"Ellen958"}`)

	require.Equal(t, http.StatusCreated, first.callback("ellen", firstState).Code)

	rec := second.callback("course", secondState)
	assert.Equal(t, http.StatusConflict, rec.Code)
	code, _ := second.me()
	assert.Equal(t, http.StatusUnauthorized, code)

	rec = second.do(http.MethodPost, "/register/complete", `{"username":"CourseAssist.ai"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, name := second.me()
	assert.Equal(t, "CourseAssist.ai", name)
}

func TestLogin_ReturningAccount(t *testing.T) {
	srv, _ := newServer(t)
	b := newBrowser(t, srv)
	b.callback("ellen", b.begin("/register", `{"username":"Ellen958"}`))

	rec := b.do(http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	code, _ := b.me()
	assert.Equal(t, http.StatusUnauthorized, code)

	rec = b.callback("ellen", b.begin("/login", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"found"`)
	_, name := b.me()
	assert.Equal(t, "Ellen958", name)
}

func TestLogin_UnknownIdentityChoosesUsername(t *testing.T) {
	srv, _ := newServer(t)
	b := newBrowser(t, srv)

	rec := b.callback("newbie", b.begin("/login", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "username_required")

	code, _ := b.me()
	assert.Equal(t, http.StatusUnauthorized, code)

	rec = b.do(http.MethodPost, "/register/complete", `{"username":"bad name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(http.MethodPost, "/register/complete", `{"username":"Newbie"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	_, name := b.me()
	assert.Equal(t, "Newbie", name)
}

func TestCompleteRegister_RequiresProviderData(t *testing.T) {
	srv, mem := newServer(t)
	b := newBrowser(t, srv)

	rec := b.do(http.MethodPost, "/register/complete", `{"username":"Sneaky"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.begin("/register", `{"username":"Sneaky"}`)
	rec = b.do(http.MethodPost, "/register/complete", `{"username":"Sneaky"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "still waiting on the provider")

	_, err := mem.Accounts().FindByUsername(context.Background(), "Sneaky")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestCallback_ProviderFailureAbandonsAttempt(t *testing.T) {
	srv, mem := newServer(t)
	b := newBrowser(t, srv)

	rec := b.callback("broken", b.begin("/register", `{"username":"Ellen958"}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	_, err := mem.Accounts().FindByUsername(context.Background(), "Ellen958")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	rec = b.do(http.MethodPost, "/register/complete", `{"username":"Ellen958"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "attempt was reset to idle")
}

func TestCallback_ProviderFailureKeepsExistingSignIn(t *testing.T) {
	srv, _ := newServer(t)
	b := newBrowser(t, srv)
	b.callback("ellen", b.begin("/register", `{"username":"Ellen958"}`))

	rec := b.callback("broken", b.begin("/login", ""))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	_, name := b.me()
	assert.Equal(t, "Ellen958", name)
}

func TestCallback_RejectsForeignState(t *testing.T) {
	srv, _ := newServer(t)
	b := newBrowser(t, srv)
	b.begin("/login", "")

	rec := b.callback("ellen", "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fresh := newBrowser(t, srv)
	rec = fresh.callback("ellen", "anything")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_ProviderError(t *testing.T) {
	srv, _ := newServer(t)
	b := newBrowser(t, srv)
	state := b.begin("/login", "")

	rec := b.do(http.MethodGet, "/auth/google/callback?error=access_denied&state="+url.QueryEscape(state), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCallback_StorageFailureResetsAttempt(t *testing.T) {
	mem := store.NewMemory()
	srv := newServerOver(t, mem, failingCreate{mem.Accounts()})
	b := newBrowser(t, srv)

	state := b.begin("/register", `{"username":"Ellen958"}`)
	rec := b.callback("ellen", state)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = b.callback("ellen", state)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "used state must not be accepted again")

	rec = b.do(http.MethodPost, "/register/complete", `{"username":"Ellen958"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "attempt was reset to idle")

	code, _ := b.me()
	assert.Equal(t, http.StatusUnauthorized, code)
}
