package application

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const importSheet = "monitoring"

var headerAliases = map[string]string{
	"date":            "date",
	"data":            "date",
	"day":             "date",
	"meter":           "meter",
	"tag":             "meter",
	"meter_tag":       "meter",
	"medidor":         "meter",
	"subsea_oil":      "subsea_oil",
	"subsea_gas":      "subsea_gas",
	"subsea_water":    "subsea_water",
	"topside_oil":     "topside_oil",
	"topside_gas":     "topside_gas",
	"topside_water":   "topside_water",
	"separator_oil":   "separator_oil",
	"separator_gas":   "separator_gas",
	"separator_water": "separator_water",
	"notes":           "notes",
	"observacoes":     "notes",
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339, "2006-01-02 15:04:05"}

// LineError describes a sheet line that was skipped.
type LineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported int         `json:"imported"`
	Rejected []LineError `json:"rejected"`
}

// ParsedLine is a sheet line converted to an input.
type ParsedLine struct {
	Line  int
	Input Input
}

// ParseXLSX reads monitoring lines from a workbook. The "monitoring" sheet is
// used when present, otherwise the first sheet. Line numbers are 1-based sheet rows.
func ParseXLSX(r io.Reader) ([]ParsedLine, []LineError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, validation.Errorf("invalid workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, validation.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, importSheet) {
			sheet = name
			break
		}
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, validation.Errorf("sheet %s is empty", sheet)
	}

	columns := make(map[string]int)
	for i, title := range rows[0] {
		if key, ok := headerAliases[normalizeHeader(title)]; ok {
			if _, seen := columns[key]; !seen {
				columns[key] = i
			}
		}
	}
	for _, required := range []string{"date", "meter"} {
		if _, ok := columns[required]; !ok {
			return nil, nil, validation.Errorf("missing %s column", required)
		}
	}

	var (
		parsed   []ParsedLine
		rejected []LineError
	)
	for i, cells := range rows[1:] {
		line := i + 2
		if blank(cells) {
			continue
		}
		in, err := parseLine(cells, columns)
		if err != nil {
			rejected = append(rejected, LineError{Line: line, Error: err.Error()})
			continue
		}
		parsed = append(parsed, ParsedLine{Line: line, Input: in})
	}
	return parsed, rejected, nil
}

// ImportXLSX records every valid line of a workbook.
func (s *Service) ImportXLSX(ctx context.Context, r io.Reader) (*ImportReport, error) {
	parsed, rejected, err := ParseXLSX(r)
	if err != nil {
		metrics.ObserveImport("xlsx", metrics.ResultError, 0, 0)
		return nil, err
	}
	report := &ImportReport{Rejected: rejected}
	for _, line := range parsed {
		if _, err := s.Record(ctx, line.Input); err != nil {
			report.Rejected = append(report.Rejected, LineError{Line: line.Line, Error: err.Error()})
			continue
		}
		report.Imported++
	}
	if report.Rejected == nil {
		report.Rejected = []LineError{}
	}
	metrics.ObserveImport("xlsx", metrics.ResultSuccess, report.Imported, len(report.Rejected))
	s.logger.Info("monitoring import finished",
		zap.String("tenant_id", s.tenant(ctx)),
		zap.Int("imported", report.Imported),
		zap.Int("rejected", len(report.Rejected)),
	)
	if s.auditor != nil {
		metadata := audit.Metadata(report)
		s.auditor.Record(ctx, audit.Entry{
			ID:            audit.NewID(),
			TenantID:      s.tenant(ctx),
			Action:        audit.ActionImport,
			ResourceType:  resourceType,
			Metadata:      metadata,
			PayloadDigest: audit.DigestJSON(metadata),
		})
	}
	return report, nil
}

func parseLine(cells []string, columns map[string]int) (Input, error) {
	cell := func(key string) string {
		idx, ok := columns[key]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	var in Input
	date, err := parseDate(cell("date"))
	if err != nil {
		return Input{}, err
	}
	in.Date = date
	in.MeterTag = cell("meter")
	if in.MeterTag == "" {
		return Input{}, fmt.Errorf("meter is required")
	}
	in.Notes = cell("notes")

	targets := []struct {
		key string
		dst *float64
	}{
		{"subsea_oil", &in.Subsea.Oil},
		{"subsea_gas", &in.Subsea.Gas},
		{"subsea_water", &in.Subsea.Water},
		{"topside_oil", &in.Topside.Oil},
		{"topside_gas", &in.Topside.Gas},
		{"topside_water", &in.Topside.Water},
		{"separator_oil", &in.Separator.Oil},
		{"separator_gas", &in.Separator.Gas},
		{"separator_water", &in.Separator.Water},
	}
	for _, target := range targets {
		value, err := parseMass(cell(target.key))
		if err != nil {
			return Input{}, fmt.Errorf("%s: %w", target.key, err)
		}
		*target.dst = value
	}
	return in, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		return excelize.ExcelDateToTime(serial, false)
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

func parseMass(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	normalized, err := normalizeDecimal(value)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", value)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("negative mass %v", parsed)
	}
	return parsed, nil
}

// normalizeDecimal rewrites "1.234,56" and "1,234.56" to "1234.56". When both
// separators appear the last one is the decimal mark. A lone separator is a
// decimal mark; a repeated one must group thousands.
func normalizeDecimal(value string) (string, error) {
	lastDot := strings.LastIndex(value, ".")
	lastComma := strings.LastIndex(value, ",")
	if lastDot < 0 && lastComma < 0 {
		return value, nil
	}
	if lastDot >= 0 && lastComma >= 0 {
		decimal, thousands, idx := ".", ",", lastDot
		if lastComma > lastDot {
			decimal, thousands, idx = ",", ".", lastComma
		}
		whole := value[:idx]
		if strings.Contains(whole, decimal) || !thousandsGrouped(whole, thousands) {
			return "", fmt.Errorf("ambiguous number %q", value)
		}
		return strings.ReplaceAll(whole, thousands, "") + "." + value[idx+1:], nil
	}
	sep := "."
	if lastComma >= 0 {
		sep = ","
	}
	if strings.Count(value, sep) == 1 {
		return strings.Replace(value, sep, ".", 1), nil
	}
	if !thousandsGrouped(value, sep) {
		return "", fmt.Errorf("ambiguous number %q", value)
	}
	return strings.ReplaceAll(value, sep, ""), nil
}

func thousandsGrouped(whole, sep string) bool {
	groups := strings.Split(strings.TrimLeft(whole, "+-"), sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, group := range groups[1:] {
		if len(group) != 3 {
			return false
		}
	}
	return true
}

func normalizeHeader(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.NewReplacer(" ", "_", "-", "_", "ç", "c", "õ", "o").Replace(title)
	return title
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
