package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/model"
)

func TestDocumentIssueAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.session(f.show("Cyrano").ID, now.Add(96*time.Hour), 30, nil)
	b, err := f.svc.Create(ctx, requester(10), individual(s.ID, 2))
	require.NoError(t, err)

	docs := NewDocumentService(f.sessions, f.orgs, f.bookings, f.docs, clock.NewFixed(now.Add(1500*time.Millisecond)), "secret",
		WithDownloadLinks(time.Hour, "https://booking.example/"))

	d, err := docs.Issue(ctx, b, model.DocumentQuote)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(d.Content, []byte("%PDF-")))
	sum := sha256.Sum256(d.Content)
	assert.Equal(t, hex.EncodeToString(sum[:]), d.SHA256)
	assert.Equal(t, now.Add(time.Second), d.GeneratedAt)

	_, err = docs.Issue(ctx, b, model.DocumentTicket)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	got, err := docs.Get(ctx, requester(10), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Content, got.Content)
	_, err = docs.Get(ctx, requester(11), d.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
	_, err = docs.Get(ctx, admin, d.ID)
	assert.NoError(t, err)

	list, err := docs.ListForBooking(ctx, requester(10), b.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Content)
	_, err = docs.ListForBooking(ctx, requester(11), b.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	link, err := docs.Link(ctx, requester(10), d.ID)
	require.NoError(t, err)
	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "booking.example", u.Host)
	assert.Equal(t, "/v1/documents/download", u.Path)
	assert.Equal(t, link.Token, u.Query().Get("token"))

	dl, err := docs.Download(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, d.ID, dl.ID)

	expired := NewDocumentService(f.sessions, f.orgs, f.bookings, f.docs, clock.NewFixed(now.Add(2*time.Hour)), "secret")
	_, err = expired.Download(ctx, link.Token)
	assert.ErrorIs(t, err, model.ErrForbidden)

	otherKey := NewDocumentService(f.sessions, f.orgs, f.bookings, f.docs, clock.NewFixed(now), "another-secret")
	_, err = otherKey.Download(ctx, link.Token)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestDocumentIssueRenderError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	show := f.show("Sans titre")
	s := f.session(show.ID, now.Add(96*time.Hour), 30, nil)
	b, err := f.svc.Create(ctx, requester(10), individual(s.ID, 2))
	require.NoError(t, err)

	f.db.mu.Lock()
	show.Title = ""
	f.db.shows[show.ID] = show
	f.db.mu.Unlock()

	_, _, err = f.svc.Quote(ctx, requester(10), b.ID)
	assert.ErrorIs(t, err, model.ErrRenderError)

	stored, err := f.bookings.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	list, err := f.docs.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
