package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/model"
)

func TestCheckCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	show := f.show("Cyrano")
	other := f.show("Tartuffe")

	s := f.session(show.ID, now.Add(24*time.Hour), 30, nil)
	f.fill(s.ID, 25)

	later := f.session(show.ID, now.Add(72*time.Hour), 50, nil)
	sooner := f.session(show.ID, now.Add(48*time.Hour), 20, nil)
	f.session(show.ID, now.Add(96*time.Hour), 12, func(x *model.Session) { x.BookedSeats = 5 })              // only 7 left
	f.session(show.ID, now.Add(120*time.Hour), 50, func(x *model.Session) { x.Status = model.SessionDraft }) // not published
	f.session(show.ID, now.Add(-time.Hour), 50, nil)                                                         // already started
	f.session(other.ID, now.Add(48*time.Hour), 50, nil)                                                      // other show

	t.Run("fits", func(t *testing.T) {
		res, err := f.checker.CheckCapacity(ctx, s.ID, 3)
		require.NoError(t, err)
		assert.True(t, res.CanBook)
		assert.Equal(t, 5, res.AvailableSeats)
		assert.Empty(t, res.AlternativeSessions)
	})

	t.Run("exact fit", func(t *testing.T) {
		res, err := f.checker.CheckCapacity(ctx, s.ID, 5)
		require.NoError(t, err)
		assert.True(t, res.CanBook)
	})

	t.Run("too many lists alternatives by date", func(t *testing.T) {
		res, err := f.checker.CheckCapacity(ctx, s.ID, 10)
		require.NoError(t, err)
		assert.False(t, res.CanBook)
		assert.Equal(t, 5, res.AvailableSeats)
		require.Len(t, res.AlternativeSessions, 2)
		assert.Equal(t, sooner.ID, res.AlternativeSessions[0].ID)
		assert.Equal(t, later.ID, res.AlternativeSessions[1].ID)
	})

	t.Run("idempotent", func(t *testing.T) {
		a, err := f.checker.CheckCapacity(ctx, s.ID, 10)
		require.NoError(t, err)
		b, err := f.checker.CheckCapacity(ctx, s.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, 25, f.booked(s.ID).BookedSeats)
	})
}

func TestCheckCapacityErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	show := f.show("Phèdre")
	draft := f.session(show.ID, now.Add(time.Hour), 10, func(x *model.Session) { x.Status = model.SessionDraft })
	open := f.session(show.ID, now.Add(time.Hour), 10, nil)

	tests := []struct {
		name    string
		session uint64
		seats   int
		want    error
	}{
		{"zero seats", open.ID, 0, model.ErrInvalidInput},
		{"negative seats", open.ID, -2, model.ErrInvalidInput},
		{"unknown session", 9999, 1, model.ErrNotFound},
		{"draft session", draft.ID, 1, model.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.checker.CheckCapacity(ctx, tc.session, tc.seats)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCheckPoolCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	show := f.show("Ondine")
	school := 10
	s := f.session(show.ID, now.Add(time.Hour), 100, func(x *model.Session) { x.SchoolCapacity = &school })
	alt := f.session(show.ID, now.Add(48*time.Hour), 100, nil)
	publicOnly := f.session(show.ID, now.Add(24*time.Hour), 100, func(x *model.Session) { x.SessionType = model.SessionTypePublic })

	res, err := f.checker.CheckPoolCapacity(ctx, s.ID, model.PoolSchool, 8)
	require.NoError(t, err)
	assert.True(t, res.CanBook)
	assert.Equal(t, 10, res.AvailableSeats)

	res, err = f.checker.CheckPoolCapacity(ctx, s.ID, model.PoolSchool, 12)
	require.NoError(t, err)
	assert.False(t, res.CanBook)
	require.Len(t, res.AlternativeSessions, 1)
	assert.Equal(t, alt.ID, res.AlternativeSessions[0].ID)

	_, err = f.checker.CheckPoolCapacity(ctx, publicOnly.ID, model.PoolSchool, 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.checker.CheckPoolCapacity(ctx, s.ID, model.Pool("vip"), 1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
