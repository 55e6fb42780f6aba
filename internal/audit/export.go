package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{"created_at", "actor", "role", "action", "resource_type", "resource_id", "meter_tag", "ip", "payload_digest", "metadata"}

func exportRecord(entry Entry) []string {
	return []string{
		entry.CreatedAt.UTC().Format(time.RFC3339),
		entry.Actor,
		entry.Role,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.MeterTag,
		entry.IP,
		entry.PayloadDigest,
		string(entry.Metadata),
	}
}

// BuildCSV renders entries as CSV.
func BuildCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writer.Write(exportRecord(entry)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders entries as a single-sheet workbook.
func BuildXLSX(entries []Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "audit"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for col, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, entry := range entries {
		for col, value := range exportRecord(entry) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("audit xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
