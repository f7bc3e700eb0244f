package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhatri/internal/auth"
	"dhatri/internal/ledger"
	"dhatri/internal/models"
	"dhatri/internal/store/storetest"
)

func TestSweepPurgesExpiredTokensAndOldAudit(t *testing.T) {
	ctx := t.Context()
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
	l := ledger.New(st, st, codec, 0, clock)

	u, err := st.CreateUser(ctx, models.User{
		ID: uuid.NewString(), Name: "Alice", Email: "alice@x.com", PasswordHash: "x",
		Role: models.RolePatient, IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, _, err = l.Issue(ctx, u.ID, ledger.Meta{DeviceInfo: "Firefox"})
	require.NoError(t, err)

	old := models.AuditEntry{Action: models.AuditLogin, UserID: &u.ID, Success: true, CreatedAt: now.AddDate(-8, 0, 0)}
	recent := models.AuditEntry{Action: models.AuditLogin, UserID: &u.ID, Success: true, CreatedAt: now}
	require.NoError(t, st.InsertAudit(ctx, old))
	require.NoError(t, st.InsertAudit(ctx, recent))

	j := New(l, st, 7*365*24*time.Hour, nil, clock)

	res, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Tokens)
	assert.Equal(t, int64(1), res.Audit)

	now = now.Add(8 * 24 * time.Hour)
	res, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Tokens)

	sessions, err := l.Sessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	entries, err := st.ListAuditByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type failingCleaner struct{}

func (failingCleaner) Cleanup(context.Context) (int64, error) { return 0, errors.New("db down") }

type countingPurger struct{ calls int }

func (p *countingPurger) DeleteAuditBefore(context.Context, time.Time) (int64, error) {
	p.calls++
	return 3, nil
}

func TestSweepContinuesAfterTokenFailure(t *testing.T) {
	p := &countingPurger{}
	res, err := New(failingCleaner{}, p, time.Hour, nil, nil).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, int64(3), res.Audit)
}

func TestZeroRetentionKeepsAudit(t *testing.T) {
	p := &countingPurger{}
	_, _ = New(failingCleaner{}, p, 0, nil, nil).Sweep(context.Background())
	assert.Zero(t, p.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	p := &countingPurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(failingCleaner{}, p, time.Hour, nil, nil).Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
