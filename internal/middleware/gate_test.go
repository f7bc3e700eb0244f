package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhatri/internal/auth"
	"dhatri/internal/models"
	"dhatri/internal/store"
)

type usersStub map[string]models.User

func (u usersStub) GetUserByID(_ context.Context, id string) (models.User, error) {
	if v, ok := u[id]; ok {
		return v, nil
	}
	return models.User{}, store.ErrNotFound
}

var gateNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func gateCodec(now time.Time) *auth.Codec {
	return auth.NewCodec(auth.CodecConfig{
		AccessSecret:  "access-secret-access-secret-access-secret",
		RefreshSecret: "refresh-secret-refresh-secret-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "healthcare-platform",
		Audience:      "healthcare-api",
	}).WithClock(func() time.Time { return now })
}

func bearer(t *testing.T, u models.User) string {
	t.Helper()
	raw, err := gateCodec(gateNow).SignAccess(u)
	require.NoError(t, err)
	return "Bearer " + raw
}

func gateRouter(g Gate) http.Handler {
	ok := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserID(r.Context())))
	}
	r := chi.NewRouter()
	r.Use(RealIP(false))
	r.Group(func(r chi.Router) {
		r.Use(g.Authenticate)
		r.Get("/me", ok)
		r.With(g.Authorize(models.RoleAdmin)).Get("/admin", ok)
		r.With(g.CheckOwnership("userId")).Get("/users/{userId}", ok)
		r.With(g.CheckOwnershipOrRole("userId", models.RoleAdmin, models.RoleDoctor)).Get("/records/{userId}", ok)
	})
	return r
}

func serve(h http.Handler, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateOutcomes(t *testing.T) {
	alice := models.User{ID: "u-alice", Email: "alice@x.com", Role: models.RolePatient}
	h := gateRouter(Gate{Codec: gateCodec(gateNow.Add(time.Minute))})

	rec := serve(h, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NOT_AUTHENTICATED", decodeError(t, rec).Code)

	rec = serve(h, "/me", "Bearer garbage")
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, rec).Code)

	rec = serve(h, "/me", bearer(t, alice))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-alice", rec.Body.String())

	expired := gateRouter(Gate{Codec: gateCodec(gateNow.Add(20 * time.Minute))})
	rec = serve(expired, "/me", bearer(t, alice))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeError(t, rec).Code)
}

func TestAuthorizeDeniesAndAudits(t *testing.T) {
	spy := &auditSpy{}
	h := gateRouter(Gate{Codec: gateCodec(gateNow), Audit: spy, Resp: Responder{Audit: spy}})
	patient := models.User{ID: "u-alice", Role: models.RolePatient}

	rec := serve(h, "/admin", bearer(t, patient))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", decodeError(t, rec).Code)

	require.Len(t, spy.entries, 1)
	e := spy.entries[0]
	assert.Equal(t, models.AuditUnauthorizedAccess, e.Action)
	require.NotNil(t, e.UserID)
	assert.Equal(t, "u-alice", *e.UserID)
	assert.Equal(t, "GET /admin", e.Metadata["attemptedRoute"])
	assert.Equal(t, "patient", e.Metadata["userRole"])
	assert.Equal(t, []string{"admin"}, e.Metadata["requiredRoles"])

	rec = serve(h, "/admin", bearer(t, models.User{ID: "u-root", Role: models.RoleAdmin}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOwnershipGuards(t *testing.T) {
	spy := &auditSpy{}
	h := gateRouter(Gate{Codec: gateCodec(gateNow), Audit: spy})
	alice := bearer(t, models.User{ID: "u-alice", Role: models.RolePatient})
	doctor := bearer(t, models.User{ID: "u-doc", Role: models.RoleDoctor})
	admin := bearer(t, models.User{ID: "u-root", Role: models.RoleAdmin})

	assert.Equal(t, http.StatusOK, serve(h, "/users/u-alice", alice).Code)
	rec := serve(h, "/users/u-bob", alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_AUTHORIZED", decodeError(t, rec).Code)
	assert.Equal(t, http.StatusOK, serve(h, "/users/u-bob", admin).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "/users/u-alice", doctor).Code)

	assert.Equal(t, http.StatusOK, serve(h, "/records/u-alice", doctor).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, "/records/u-bob", alice).Code)

	assert.Equal(t, []models.AuditAction{
		models.AuditUnauthorizedAccess,
		models.AuditUnauthorizedAccess,
		models.AuditUnauthorizedAccess,
	}, spy.actions())
}

func TestStrictTokenCheck(t *testing.T) {
	changed := gateNow.Add(30 * time.Second)
	lockedUntil := gateNow.Add(time.Hour)
	users := usersStub{
		"u-alice": {ID: "u-alice", Role: models.RolePatient, IsActive: true},
		"u-off":   {ID: "u-off", Role: models.RolePatient},
		"u-pw":    {ID: "u-pw", Role: models.RolePatient, IsActive: true, PasswordChangedAt: &changed},
		"u-demo":  {ID: "u-demo", Role: models.RolePatient, IsActive: true},
		"u-lock":  {ID: "u-lock", Role: models.RolePatient, IsActive: true, FailedLoginAttempts: 5, LockUntil: &lockedUntil},
	}
	h := gateRouter(Gate{Codec: gateCodec(gateNow.Add(time.Minute)), Users: users, Strict: true,
		Now: func() time.Time { return gateNow.Add(time.Minute) }})

	assert.Equal(t, http.StatusOK, serve(h, "/me", bearer(t, models.User{ID: "u-alice", Role: models.RolePatient})).Code)

	rec := serve(h, "/me", bearer(t, models.User{ID: "u-gone"}))
	assert.Equal(t, "NOT_AUTHENTICATED", decodeError(t, rec).Code)

	rec = serve(h, "/me", bearer(t, models.User{ID: "u-off"}))
	assert.Equal(t, "ACCOUNT_DEACTIVATED", decodeError(t, rec).Code)

	rec = serve(h, "/me", bearer(t, models.User{ID: "u-pw"}))
	assert.Equal(t, "PASSWORD_CHANGED", decodeError(t, rec).Code)

	rec = serve(h, "/me", bearer(t, models.User{ID: "u-lock"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "ACCOUNT_LOCKED", body.Code)
	assert.Contains(t, body.Message, "59 minutes")

	// A token minted while the account was admin loses the role once demoted.
	rec = serve(h, "/admin", bearer(t, models.User{ID: "u-demo", Role: models.RoleAdmin}))
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", decodeError(t, rec).Code)
}

func TestRejectedTokensAreAudited(t *testing.T) {
	spy := &auditSpy{}
	alice := models.User{ID: "u-alice", Role: models.RolePatient}
	g := Gate{Codec: gateCodec(gateNow.Add(20 * time.Minute)), Audit: spy, Resp: Responder{Audit: spy}}
	h := gateRouter(g)

	assert.Equal(t, "INVALID_TOKEN", decodeError(t, serve(h, "/me", "Bearer garbage")).Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeError(t, serve(h, "/me", bearer(t, alice))).Code)

	require.Len(t, spy.entries, 2)
	for _, e := range spy.entries {
		assert.Equal(t, models.AuditUnauthorizedAccess, e.Action)
		assert.Nil(t, e.UserID)
		require.NotNil(t, e.ErrorMessage)
		assert.Equal(t, "GET /me", e.Metadata["attemptedRoute"])
	}

	serve(h, "/me", "")
	assert.Equal(t, models.AuditError, spy.entries[2].Action, "a missing token is not an access attempt")
}
