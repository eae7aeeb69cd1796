package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/Iemontine/microblog/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	NewHandler(svc).RegisterRoutes(router)
	return router
}

func signedIn(r *http.Request, id uint) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), utils.UserIDKey, id))
}

func TestHandler_MeRequiresSession(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f.svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signedIn(httptest.NewRequest(http.MethodGet, "/me", nil), 99))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "stale session")
}

func TestHandler_MeAndProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	router := newRouter(f.svc)

	account, err := f.svc.CreateAccount(ctx, "Ellen958", "H1", "secret@example.com")
	require.NoError(t, err)
	<-f.mailer.sent

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedIn(httptest.NewRequest(http.MethodGet, "/me", nil), account.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret@example.com")
	assert.NotContains(t, rec.Body.String(), "H1")

	var me models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "Ellen958", me.Username)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/Ellen958", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var profile Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "Ellen958", profile.Account.Username)
	assert.Empty(t, profile.Posts)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UpdateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	router := newRouter(f.svc)

	ellen, err := f.svc.CreateAccount(ctx, "Ellen958", "H1", "")
	require.NoError(t, err)
	_, err = f.svc.CreateAccount(ctx, "CourseAssist.ai", "H2", "")
	require.NoError(t, err)

	put := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/profile/username", strings.NewReader(body))
		router.ServeHTTP(rec, signedIn(req, ellen.ID))
		return rec
	}

	assert.Equal(t, http.StatusConflict, put(`{"username":"CourseAssist.ai"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put(`{"username":"no spaces"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put(`not json`).Code)

	rec := put(`{"username":"EllenB"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var renamed models.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renamed))
	assert.Equal(t, "EllenB", renamed.Username)
}
