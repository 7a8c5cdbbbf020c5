package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theater-booking/internal/auth"
	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/document"
	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/utils"
)

// DocumentService renders quotes and tickets and stores them as immutable
// rows.  Reissuing never touches an old row; it inserts a new one with a
// new reference.
type DocumentService struct {
	sessions SessionStore
	orgs     OrganizationStore
	bookings BookingStore
	docs     DocumentStore
	clock    clock.Clock
	secret   string
	linkTTL  time.Duration
	baseURL  string
}

type DocumentServiceOption func(*DocumentService)

// WithDownloadLinks sets the lifetime and public base URL of signed
// download links.
func WithDownloadLinks(ttl time.Duration, baseURL string) DocumentServiceOption {
	return func(s *DocumentService) {
		if ttl > 0 {
			s.linkTTL = ttl
		}
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewDocumentService returns a service signing download links with secret.
func NewDocumentService(sessions SessionStore, orgs OrganizationStore, bookings BookingStore, docs DocumentStore,
	clk clock.Clock, secret string, opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{
		sessions: sessions,
		orgs:     orgs,
		bookings: bookings,
		docs:     docs,
		clock:    clk,
		secret:   secret,
		linkTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue renders a document of kind for b and stores it.  Rendering errors
// (model.ErrRenderError, or model.ErrInvalidTransition for a ticket on an
// unconfirmed booking) leave nothing stored.
func (s *DocumentService) Issue(ctx context.Context, b model.Booking, kind string) (model.Document, error) {
	sess, err := s.sessions.GetByID(ctx, b.SessionID)
	if err != nil {
		return model.Document{}, err
	}
	var org *model.Organization
	if b.OrganizationID != nil {
		o, err := s.orgs.GetByID(ctx, *b.OrganizationID)
		if err != nil {
			return model.Document{}, err
		}
		org = &o
	}
	// DATETIME keeps seconds only; truncate so the stored time matches the
	// one embedded in the PDF.
	now := s.clock.Now().Truncate(time.Second)
	ref := uuid.NewString()
	pdf, err := document.Generate(document.NewSnapshot(ref, b, sess, org), kind, now)
	if err != nil {
		return model.Document{}, err
	}
	sum := sha256.Sum256(pdf)
	d := model.Document{
		BookingID:   b.ID,
		Kind:        kind,
		Reference:   ref,
		Content:     pdf,
		SHA256:      hex.EncodeToString(sum[:]),
		GeneratedAt: now,
	}
	if err := s.docs.Create(ctx, &d); err != nil {
		return model.Document{}, err
	}
	return d, nil
}

// Get returns a document, content included, if p may see its booking.
func (s *DocumentService) Get(ctx context.Context, p auth.Principal, id uint64) (model.Document, error) {
	d, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return model.Document{}, err
	}
	b, err := s.bookings.GetByID(ctx, d.BookingID)
	if err != nil {
		return model.Document{}, err
	}
	if !p.Owns(b.RequesterID, b.OrganizationID) {
		return model.Document{}, fmt.Errorf("%w: document %d", model.ErrForbidden, id)
	}
	return d, nil
}

// ListForBooking returns the document metadata of a booking.
func (s *DocumentService) ListForBooking(ctx context.Context, p auth.Principal, bookingID uint64) ([]model.Document, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !p.Owns(b.RequesterID, b.OrganizationID) {
		return nil, fmt.Errorf("%w: booking %d", model.ErrForbidden, bookingID)
	}
	return s.docs.ListByBooking(ctx, bookingID)
}

// DownloadLink is a signed URL that opens a document without a bearer
// token until ExpiresAt.
type DownloadLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Link signs a download link for document id.
func (s *DocumentService) Link(ctx context.Context, p auth.Principal, id uint64) (DownloadLink, error) {
	d, err := s.Get(ctx, p, id)
	if err != nil {
		return DownloadLink{}, err
	}
	tok, exp, err := utils.NewDownloadToken(s.secret, d.ID, s.linkTTL, s.clock.Now())
	if err != nil {
		return DownloadLink{}, fmt.Errorf("sign download link: %w", err)
	}
	return DownloadLink{
		URL:       s.baseURL + "/v1/documents/download?token=" + tok,
		Token:     tok,
		ExpiresAt: exp,
	}, nil
}

// Download resolves a signed link.
func (s *DocumentService) Download(ctx context.Context, token string) (model.Document, error) {
	id, err := utils.ParseDownloadToken(s.secret, token, s.clock.Now())
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", model.ErrForbidden, err)
	}
	return s.docs.GetByID(ctx, id)
}
