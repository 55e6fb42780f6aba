package http

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	monitoring "mpfm-monitor/internal/monitoring/domain"
)

var exportHeader = []string{
	"date", "meter_tag",
	"subsea_oil", "subsea_gas", "subsea_water",
	"topside_oil", "topside_gas", "topside_water",
	"separator_oil", "separator_gas", "separator_water",
	"hc_balance_pct", "total_balance_pct", "separator_deviation_pct",
	"status", "notes",
}

func exportRecord(row monitoring.Row) []string {
	return []string{
		row.Date.Format("2006-01-02"),
		row.MeterTag,
		formatMass(row.Subsea.Oil), formatMass(row.Subsea.Gas), formatMass(row.Subsea.Water),
		formatMass(row.Topside.Oil), formatMass(row.Topside.Gas), formatMass(row.Topside.Water),
		formatMass(row.Separator.Oil), formatMass(row.Separator.Gas), formatMass(row.Separator.Water),
		formatPct(row.HCBalancePct), formatPct(row.TotalBalancePct), formatPct(row.SeparatorDeviationPct),
		string(row.Status),
		row.Notes,
	}
}

// BuildCSV renders rows as CSV.
func BuildCSV(rows []monitoring.Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write(exportRecord(row)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildJSON renders rows as an indented JSON array.
func BuildJSON(rows []monitoring.Row) ([]byte, error) {
	if rows == nil {
		rows = []monitoring.Row{}
	}
	return json.MarshalIndent(rows, "", "  ")
}

// BuildXLSX renders rows on a "monitoring" sheet that the importer reads back.
func BuildXLSX(rows []monitoring.Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "monitoring"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for col, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, row := range rows {
		values := []any{
			row.Date.Format("2006-01-02"), row.MeterTag,
			row.Subsea.Oil, row.Subsea.Gas, row.Subsea.Water,
			row.Topside.Oil, row.Topside.Gas, row.Topside.Water,
			row.Separator.Oil, row.Separator.Gas, row.Separator.Water,
			pctValue(row.HCBalancePct), pctValue(row.TotalBalancePct), pctValue(row.SeparatorDeviationPct),
			string(row.Status), row.Notes,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("monitoring xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildPDF renders a landscape balance report.
func BuildPDF(tenantID string, rows []monitoring.Row) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "MPFM Mass Balance Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Unit: %s", tenantID))
	pdf.Ln(5)
	if len(rows) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s",
			rows[0].Date.Format("2006-01-02"), rows[len(rows)-1].Date.Format("2006-01-02")))
		pdf.Ln(5)
	}
	counts := make(map[monitoring.Status]int)
	for _, row := range rows {
		counts[row.Status]++
	}
	pdf.Cell(0, 6, fmt.Sprintf("Rows: %d  OK: %d  ALERT: %d  FAIL: %d",
		len(rows), counts[monitoring.StatusOK], counts[monitoring.StatusAlert], counts[monitoring.StatusFail]))
	pdf.Ln(8)

	headers := []string{"Date", "Meter", "Subsea HC", "Topside HC", "Separator HC", "HC %", "Total %", "Sep %", "Status"}
	widths := []float64{28, 36, 30, 30, 30, 25, 25, 25, 25}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range headers {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		values := []string{
			row.Date.Format("2006-01-02"),
			row.MeterTag,
			fmt.Sprintf("%.2f", row.Subsea.HC()),
			fmt.Sprintf("%.2f", row.Topside.HC()),
			fmt.Sprintf("%.2f", row.Separator.HC()),
			formatPct(row.HCBalancePct),
			formatPct(row.TotalBalancePct),
			formatPct(row.SeparatorDeviationPct),
			string(row.Status),
		}
		for i, value := range values {
			align := "R"
			if i < 2 || i == len(values)-1 {
				align = "C"
			}
			pdf.CellFormat(widths[i], 6, value, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatMass(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPct(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func pctValue(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
