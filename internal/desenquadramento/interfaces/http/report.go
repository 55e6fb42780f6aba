package http

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
)

const (
	dateLayout = "2006-01-02"
	regulation = "RANP 44/2015"
)

type anpNotification struct {
	XMLName      xml.Name      `xml:"NotificacaoDesenquadramento"`
	Version      string        `xml:"versao,attr"`
	Regulation   string        `xml:"Regulamento"`
	Installation string        `xml:"Instalacao"`
	Meter        anpMeter      `xml:"Medidor"`
	Event        anpEvent      `xml:"Evento"`
	Deadlines    []anpDeadline `xml:"Prazos>Relatorio"`
	GeneratedAt  string        `xml:"GeradoEm"`
}

type anpMeter struct {
	Tag      string `xml:"tag,attr"`
	Location string `xml:"localizacao,attr"`
}

type anpEvent struct {
	ID                string `xml:"id,attr"`
	OccurredAt        string `xml:"DataOcorrencia"`
	DetectedAt        string `xml:"DataDeteccao"`
	Cause             string `xml:"Causa"`
	Description       string `xml:"Descricao,omitempty"`
	CorrectiveActions string `xml:"AcoesCorretivas,omitempty"`
	Status            string `xml:"Situacao"`
}

type anpDeadline struct {
	Kind   string `xml:"tipo,attr"`
	Due    string `xml:"vencimento,attr"`
	SentAt string `xml:"enviadoEm,attr,omitempty"`
	Status string `xml:"situacao,attr"`
}

// BuildXML renders the ANP notification document for an event.
func BuildXML(event desenquadramento.Event, deadlines []desenquadramento.Deadline, generatedAt time.Time) ([]byte, error) {
	doc := anpNotification{
		Version:      "1.0",
		Regulation:   regulation,
		Installation: event.TenantID,
		Meter:        anpMeter{Tag: event.MeterTag, Location: string(event.Location)},
		Event: anpEvent{
			ID:                event.ID,
			OccurredAt:        event.OccurredAt.Format(dateLayout),
			DetectedAt:        event.DetectedAt.Format(time.RFC3339),
			Cause:             event.Cause,
			Description:       event.Description,
			CorrectiveActions: event.CorrectiveActions,
			Status:            string(event.Status),
		},
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
	}
	for _, d := range deadlines {
		item := anpDeadline{Kind: d.Report, Due: d.Due.Format(dateLayout), Status: string(d.Status)}
		if !d.SentAt.IsZero() {
			item.SentAt = d.SentAt.Format(dateLayout)
		}
		doc.Deadlines = append(doc.Deadlines, item)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("anp xml: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildPDF renders a printable event report.
func BuildPDF(event desenquadramento.Event, deadlines []desenquadramento.Deadline) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Desenquadramento Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Unit: %s", event.TenantID),
		fmt.Sprintf("Meter: %s (%s)", event.MeterTag, event.Location),
		fmt.Sprintf("Event: %s", event.ID),
		fmt.Sprintf("Status: %s", event.Status),
		fmt.Sprintf("Occurred: %s", event.OccurredAt.Format(dateLayout)),
		fmt.Sprintf("Detected: %s", event.DetectedAt.Format(time.RFC3339)),
		fmt.Sprintf("Regulation: %s", regulation),
	}
	for _, line := range lines {
		pdf.Cell(0, 6, tr(line))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Cause")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	pdf.MultiCell(0, 5, tr(event.Cause), "", "L", false)
	if event.Description != "" {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Description")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(event.Description), "", "L", false)
	}
	if event.CorrectiveActions != "" {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Corrective actions")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(event.CorrectiveActions), "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Report", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Due", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Sent", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, d := range deadlines {
		sent := "-"
		if !d.SentAt.IsZero() {
			sent = d.SentAt.Format(dateLayout)
		}
		pdf.CellFormat(40, 6, d.Report, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, d.Due.Format(dateLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, sent, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, string(d.Status), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
