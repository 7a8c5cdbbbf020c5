package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/pricing"
	"github.com/iliyamo/theater-booking/internal/queue"
)

// DocumentStore loads stored PDFs for attachments.
type DocumentStore interface {
	GetByID(ctx context.Context, id uint64) (model.Document, error)
}

// Dispatcher is the queue.Handler that writes the email for each event.
type Dispatcher struct {
	mailer     Mailer
	alerter    Alerter // nil when Telegram is disabled
	docs       DocumentStore
	adminEmail string
	log        logrus.FieldLogger
}

func NewDispatcher(mailer Mailer, alerter Alerter, docs DocumentStore, adminEmail string, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{mailer: mailer, alerter: alerter, docs: docs, adminEmail: adminEmail, log: log}
}

// Handle sends the email for ev.  Unknown kinds are logged and ignored so
// that they are acked rather than redelivered.
func (d *Dispatcher) Handle(ctx context.Context, ev queue.NotificationEvent) error {
	switch ev.Kind {
	case queue.KindBookingCreated:
		return d.created(ctx, ev)
	case queue.KindBookingQuoted, queue.KindBookingConfirmed, queue.KindBookingCancelled, queue.KindBookingRejected:
		m := Message{To: ev.ContactEmail, Subject: subject(ev), Body: body(ev)}
		if ev.DocumentID != nil {
			doc, err := d.docs.GetByID(ctx, *ev.DocumentID)
			if err != nil {
				return fmt.Errorf("load document %d: %w", *ev.DocumentID, err)
			}
			m.Attachments = append(m.Attachments, Attachment{Name: attachmentName(doc), Content: doc.Content})
		}
		return d.mailer.Send(ctx, m)
	default:
		d.log.WithField("kind", ev.Kind).Warn("unknown notification kind ignored")
		return nil
	}
}

// created alerts staff about a new request.  Telegram failures are logged
// only; the email decides the outcome.
func (d *Dispatcher) created(ctx context.Context, ev queue.NotificationEvent) error {
	text := fmt.Sprintf("New booking #%d: %s, %d seats (%s) for %s on %s. Total %s EUR.",
		ev.BookingID, ev.ContactName, ev.Seats, ev.Category, ev.ShowTitle, when(ev.StartsAt), pricing.FormatCents(ev.TotalCents))
	if d.alerter != nil {
		if err := d.alerter.Alert(ctx, text); err != nil {
			d.log.WithError(err).WithField("booking_id", ev.BookingID).Warn("telegram alert failed")
		}
	}
	if d.adminEmail == "" {
		return nil
	}
	return d.mailer.Send(ctx, Message{
		To:      d.adminEmail,
		Subject: fmt.Sprintf("New booking request #%d", ev.BookingID),
		Body:    text + "\n\nContact: " + ev.ContactEmail + "\n",
	})
}

func subject(ev queue.NotificationEvent) string {
	switch ev.Kind {
	case queue.KindBookingQuoted:
		return fmt.Sprintf("Your quote for %s (booking #%d)", ev.ShowTitle, ev.BookingID)
	case queue.KindBookingConfirmed:
		return fmt.Sprintf("Booking #%d confirmed: %s", ev.BookingID, ev.ShowTitle)
	case queue.KindBookingRejected:
		return fmt.Sprintf("Booking #%d declined", ev.BookingID)
	default:
		return fmt.Sprintf("Booking #%d cancelled", ev.BookingID)
	}
}

func body(ev queue.NotificationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", ev.ContactName)
	switch ev.Kind {
	case queue.KindBookingQuoted:
		fmt.Fprintf(&b, "Please find attached the quote for %d seats at %s on %s (%s).\n", ev.Seats, ev.ShowTitle, when(ev.StartsAt), ev.Venue)
		fmt.Fprintf(&b, "Total: %s EUR.\n", pricing.FormatCents(ev.TotalCents))
		if ev.PaymentDueAt != nil {
			fmt.Fprintf(&b, "Payment is due by %s, after which the seats are released.\n", when(*ev.PaymentDueAt))
		}
	case queue.KindBookingConfirmed:
		fmt.Fprintf(&b, "Your booking of %d seats for %s on %s (%s) is confirmed.\n", ev.Seats, ev.ShowTitle, when(ev.StartsAt), ev.Venue)
		if ev.DocumentID != nil {
			b.WriteString("Your ticket is attached.\n")
		}
	case queue.KindBookingRejected:
		fmt.Fprintf(&b, "We are unable to accept your booking for %s on %s.\n", ev.ShowTitle, when(ev.StartsAt))
	default:
		fmt.Fprintf(&b, "Your booking for %s on %s has been cancelled.\n", ev.ShowTitle, when(ev.StartsAt))
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
	}
	return b.String()
}

func attachmentName(d model.Document) string {
	return fmt.Sprintf("%s-%s.pdf", d.Kind, d.Reference)
}

func when(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04 MST")
}
