package document

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/iliyamo/theater-booking/internal/model"
	"github.com/iliyamo/theater-booking/internal/pricing"
)

const (
	pageMargin = 15.0
	lineHeight = 7.0
)

// table column widths: label, quantity, unit price, amount
var colWidths = [4]float64{90, 25, 35, 30}

// Generate renders a quote or ticket for snap.  generatedAt is printed on
// the document and used as the PDF creation date; it is the only
// time-dependent input.
//
// It returns model.ErrRenderError when the show title, session date or
// price is missing, and model.ErrInvalidTransition when a ticket is
// requested for a booking that is not confirmed.
func Generate(snap Snapshot, kind string, generatedAt time.Time) ([]byte, error) {
	if err := validate(snap, kind); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(generatedAt.UTC())
	pdf.SetModificationDate(generatedAt.UTC())
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AliasNbPages("{nb}")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := "Quote"
	if kind == model.DocumentTicket {
		title = "Ticket"
	}
	pdf.SetTitle(tr(title+" "+snap.Reference), false)
	pdf.SetCreator("theater-booking", false)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-pageMargin)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// header
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Reference: "+snap.Reference), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Booking #"+strconv.FormatUint(snap.BookingID, 10), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Issued: "+generatedAt.UTC().Format("2006-01-02 15:04 UTC"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// performance
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, lineHeight, tr(snap.ShowTitle), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, snap.StartsAt.UTC().Format("Monday 2 January 2006, 15:04"), "", 1, "L", false, 0, "")
	if place := joinNonEmpty(snap.Venue, snap.City); place != "" {
		pdf.CellFormat(0, 6, tr(place), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// party
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, lineHeight, "Booked by", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, v := range []string{snap.Party.Organization, snap.Party.ContactName, snap.Party.ContactEmail, snap.Party.ContactPhone} {
		if v != "" {
			pdf.CellFormat(0, 5, tr(v), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(4)

	// line items
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Item", "Qty", "Unit price", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(colWidths[i], lineHeight, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 10)
	for _, l := range snap.Lines {
		pdf.CellFormat(colWidths[0], lineHeight, tr(l.Label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidths[1], lineHeight, strconv.Itoa(l.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colWidths[2], lineHeight, pricing.FormatCents(uint64(l.UnitCents)), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colWidths[3], lineHeight, pricing.FormatCents(l.AmountCents), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(colWidths[0]+colWidths[1]+colWidths[2], lineHeight, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(colWidths[3], lineHeight, pricing.FormatCents(snap.TotalCents), "1", 1, "R", false, 0, "")
	pdf.Ln(6)

	// terms
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5, tr(terms(snap, kind)), "", "L", false)

	if pdf.Err() {
		return nil, fmt.Errorf("%w: %v", model.ErrRenderError, pdf.Error())
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrRenderError, err)
	}
	return buf.Bytes(), nil
}

func validate(snap Snapshot, kind string) error {
	switch kind {
	case model.DocumentQuote:
	case model.DocumentTicket:
		if snap.Status != model.StatusConfirmed {
			return fmt.Errorf("%w: ticket requires a confirmed booking, status is %s", model.ErrInvalidTransition, snap.Status)
		}
	default:
		return fmt.Errorf("%w: unknown document kind %q", model.ErrRenderError, kind)
	}
	if snap.ShowTitle == "" {
		return fmt.Errorf("%w: missing show title", model.ErrRenderError)
	}
	if snap.StartsAt.IsZero() {
		return fmt.Errorf("%w: missing session date", model.ErrRenderError)
	}
	if len(snap.Lines) == 0 || snap.TotalCents == 0 {
		return fmt.Errorf("%w: missing price", model.ErrRenderError)
	}
	return nil
}

func terms(snap Snapshot, kind string) string {
	if kind == model.DocumentTicket {
		return "This ticket admits the party listed above to the performance shown. " +
			"Please arrive 20 minutes before the start. Tickets are neither exchangeable nor refundable."
	}
	t := "This quote is valid for the seats listed above and does not guarantee them beyond the payment deadline. "
	if snap.PaymentDueAt != nil {
		t += "Payment by bank transfer is expected before " + snap.PaymentDueAt.UTC().Format("2006-01-02 15:04 UTC") + ". "
	}
	return t + "Please quote the reference above with your payment. Unpaid bookings are cancelled automatically."
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + ", " + b
}
