// Package render paints already-issued certificates as PDF documents.
package render

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/osicert/osicert/pkg/storage"
)

// Options carries presentation details that are not part of the certificate row.
type Options struct {
	IssuerName string
	// VerifyURL, when set, is printed as the place to check the certificate.
	VerifyURL string
}

const dateLayout = "2 January 2006"

// Certificate writes c as a one-page landscape A4 PDF to w. Nothing on the page
// is computed here beyond date formatting. A blank product or organization name
// leaves its line off the page.
func Certificate(w io.Writer, c *storage.Certificate, opts Options) error {
	if c == nil {
		return errors.New("render: nil certificate")
	}
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetCompression(false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("Certificate "+c.CertificateNumber), false)
	pdf.SetAuthor(tr(opts.IssuerName), false)
	pdf.SetCreator("osicert", false)
	pdf.SetCreationDate(c.IssuedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	pdf.SetDrawColor(30, 70, 120)
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, pageW-20, pageH-20, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(13, 13, pageW-26, pageH-26, "D")

	width := pageW - 40
	pdf.SetXY(20, 30)
	pdf.SetTextColor(30, 70, 120)
	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(width, 14, "Certificate of OSI Compliance", "", 1, "C", false, 0, "")

	pdf.SetTextColor(60, 60, 60)
	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(width, 8, tr("Issued by "+opts.IssuerName), "", 1, "C", false, 0, "")
	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 14)
	if c.ProductName == "" {
		pdf.CellFormat(width, 8, "This certifies that the product holding the number below", "", 1, "C", false, 0, "")
	} else {
		pdf.CellFormat(width, 8, "This certifies that the product", "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "B", 22)
		pdf.CellFormat(width, 12, tr(c.ProductName), "", 1, "C", false, 0, "")
	}
	if c.OrganizationName != "" {
		pdf.SetFont("Helvetica", "", 14)
		pdf.CellFormat(width, 8, "supplied by", "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "B", 18)
		pdf.CellFormat(width, 10, tr(c.OrganizationName), "", 1, "C", false, 0, "")
	}
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(width, 8, "meets the OSI data standard for supplement products.", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Certificate number", c.CertificateNumber},
		{"Serial number", c.SerialNumber},
		{"Issued", c.IssuedAt.UTC().Format(dateLayout)},
		{"Expires", c.ExpiresAt.UTC().Format(dateLayout)},
	}
	if c.ExpiresAt.Sub(c.IssuedAt) < 24*time.Hour {
		rows[3][1] = c.ExpiresAt.UTC().Format("2 January 2006 15:04 MST")
	}
	labelW := 60.0
	left := (pageW - labelW - 110) / 2
	for _, row := range rows {
		pdf.SetX(left)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(labelW, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Courier", "", 12)
		pdf.CellFormat(110, 7, row[1], "", 1, "L", false, 0, "")
	}

	pdf.SetXY(20, pageH-38)
	pdf.SetFont("Courier", "", 8)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(width, 5, "SHA-256 "+c.Signature, "", 1, "C", false, 0, "")
	if opts.VerifyURL != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(width, 6, tr("Verify at "+opts.VerifyURL), "", 1, "C", false, 0, opts.VerifyURL)
	}
	if c.Demo {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetTextColor(180, 40, 40)
		pdf.CellFormat(width, 6, "DEMONSTRATION CERTIFICATE - NOT VALID FOR REGULATORY USE", "", 1, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render %s: %w", c.CertificateNumber, err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render %s: %w", c.CertificateNumber, err)
	}
	return nil
}
