package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhatri/internal/auth"
	"dhatri/internal/models"
	"dhatri/internal/store"
	"dhatri/internal/store/storetest"
)

type fixture struct {
	st     *store.Store
	ledger *Ledger
	user   models.User
	now    *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, _ := storetest.New(t)
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec := auth.NewCodec(auth.CodecConfig{
		AccessSecret:  "access-secret-access-secret-access-secret",
		RefreshSecret: "refresh-secret-refresh-secret-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "healthcare-platform",
		Audience:      "healthcare-api",
	}).WithClock(clock)

	u, err := st.CreateUser(t.Context(), models.User{
		ID: uuid.NewString(), Name: "Alice", Email: "alice@x.com", PasswordHash: "x",
		Role: models.RolePatient, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	return fixture{st: st, ledger: New(st, st, codec, 0, clock), user: u, now: &now}
}

var meta = Meta{DeviceInfo: "Firefox", IP: "10.1.1.1"}

func TestIssueStoresDigestOnly(t *testing.T) {
	f := newFixture(t)
	raw, row, err := f.ledger.Issue(t.Context(), f.user.ID, meta)
	require.NoError(t, err)

	stored, err := f.st.GetRefreshToken(t.Context(), row.ID)
	require.NoError(t, err)
	assert.NotEqual(t, raw, stored.TokenHash)
	assert.Equal(t, auth.HashToken(raw), stored.TokenHash)
	assert.Equal(t, "Firefox", stored.DeviceInfo)
	assert.Equal(t, "10.1.1.1", stored.IPAddress)
	assert.True(t, stored.ExpiresAt.Equal(f.now.Add(7*24*time.Hour)))
}

func TestRedeemAndRotate(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	raw, _, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)

	u, row, err := f.ledger.Redeem(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, u.ID)

	next, _, err := f.ledger.Rotate(ctx, row, meta)
	require.NoError(t, err)
	assert.NotEqual(t, raw, next)

	_, _, err = f.ledger.Redeem(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "rotated token must not be reusable")

	old, err := f.st.GetRefreshToken(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, old.IsRevoked)
	require.NotNil(t, old.RevokedReason)
	assert.Contains(t, *old.RevokedReason, "rotated")

	_, _, err = f.ledger.Redeem(ctx, next)
	assert.NoError(t, err)
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	raw, _, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)
	_, row, err := f.ledger.Redeem(ctx, raw)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.ledger.Rotate(ctx, row, meta)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, 1, wins)

	live, err := f.ledger.Sessions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestRedeemRejects(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	raw, _, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)

	_, _, err = f.ledger.Redeem(ctx, raw+"x")
	assert.ErrorIs(t, err, ErrInvalidToken, "tampered")

	// Signed by us but never recorded.
	unknown, _, err := f.ledger.codec.SignRefresh(f.user.ID)
	require.NoError(t, err)
	_, _, err = f.ledger.Redeem(ctx, unknown)
	assert.ErrorIs(t, err, ErrInvalidToken, "unknown")

	require.NoError(t, f.st.SetUserActive(ctx, f.user.ID, false, *f.now))
	_, _, err = f.ledger.Redeem(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "inactive owner")
	require.NoError(t, f.st.SetUserActive(ctx, f.user.ID, true, *f.now))

	*f.now = f.now.Add(7*24*time.Hour + time.Second)
	_, _, err = f.ledger.Redeem(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	var tokens []string
	for i := 0; i < 3; i++ {
		raw, _, err := f.ledger.Issue(ctx, f.user.ID, meta)
		require.NoError(t, err)
		tokens = append(tokens, raw)
	}

	n, err := f.ledger.RevokeAllForUser(ctx, f.user.ID, ReasonLogoutAll)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	for _, raw := range tokens {
		_, _, err := f.ledger.Redeem(ctx, raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestRevokeTokenIgnoresGarbage(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	uid, err := f.ledger.RevokeToken(ctx, "garbage", ReasonLogout)
	assert.NoError(t, err)
	assert.Empty(t, uid)

	raw, row, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)
	uid, err = f.ledger.RevokeToken(ctx, raw, ReasonLogout)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, uid)

	got, err := f.st.GetRefreshToken(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)

	uid, err = f.ledger.RevokeToken(ctx, raw, ReasonLogout)
	assert.NoError(t, err, "second logout is harmless")
	assert.Empty(t, uid, "nothing left to revoke")
}

func TestRevokeSessionChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, row, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.RevokeSession(ctx, "someone-else", row.ID), store.ErrNotFound)
	require.NoError(t, f.ledger.RevokeSession(ctx, f.user.ID, row.ID))

	live, err := f.ledger.Sessions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, revoked, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Revoke(ctx, revoked, ReasonLogout))
	_, live, err := f.ledger.Issue(ctx, f.user.ID, meta)
	require.NoError(t, err)

	n, err := f.ledger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh revocations are retained")

	*f.now = f.now.Add(6 * 24 * time.Hour)
	n, err = f.ledger.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*f.now = f.now.Add(2 * 24 * time.Hour)
	n, err = f.ledger.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "both rows are past expiry")
	_, err = f.st.GetRefreshToken(ctx, live.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
