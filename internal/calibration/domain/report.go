package calibration

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reportTagPattern  = regexp.MustCompile(`(?im)\b(?:meter\s*tag|tag|medidor)\s*[:#=\-]?\s*([A-Z0-9][A-Z0-9_\-]*[0-9])\b`)
	reportDatePattern = regexp.MustCompile(`(?im)\b(?:calibration\s+date|data\s+da\s+calibra[cç][aã]o|date|data)\s*[:=\-]?\s*(\d{4}-\d{2}-\d{2}|\d{2}/\d{2}/\d{4})`)
	reportKPatterns   = map[string]*regexp.Regexp{
		"oil":   regexp.MustCompile(`(?im)\bk[\s_\-]*(?:factor\s*)?(?:oil|[oó]leo)\s*[:=]?\s*([0-9]+(?:[.,][0-9]+)?)`),
		"gas":   regexp.MustCompile(`(?im)\bk[\s_\-]*(?:factor\s*)?(?:gas|g[aá]s)\s*[:=]?\s*([0-9]+(?:[.,][0-9]+)?)`),
		"water": regexp.MustCompile(`(?im)\bk[\s_\-]*(?:factor\s*)?(?:water|[aá]gua)\s*[:=]?\s*([0-9]+(?:[.,][0-9]+)?)`),
	}
)

// ReportData holds the fields extracted from calibration report text.
type ReportData struct {
	MeterTag        string    `json:"meter_tag,omitempty"`
	CalibrationDate time.Time `json:"calibration_date,omitempty"`
	KOil            *float64  `json:"k_oil,omitempty"`
	KGas            *float64  `json:"k_gas,omitempty"`
	KWater          *float64  `json:"k_water,omitempty"`
	Missing         []string  `json:"missing"`
}

// Complete reports whether every field was found.
func (d ReportData) Complete() bool {
	return len(d.Missing) == 0
}

// ParseReport extracts meter tag, calibration date and K-factors from
// already-extracted report text. Fields not found are listed in Missing.
func ParseReport(text string) ReportData {
	data := ReportData{Missing: []string{}}

	if m := reportTagPattern.FindStringSubmatch(text); m != nil {
		data.MeterTag = strings.ToUpper(m[1])
	} else {
		data.Missing = append(data.Missing, "meter_tag")
	}

	if m := reportDatePattern.FindStringSubmatch(text); m != nil {
		if parsed, ok := parseReportDate(m[1]); ok {
			data.CalibrationDate = parsed
		}
	}
	if data.CalibrationDate.IsZero() {
		data.Missing = append(data.Missing, "calibration_date")
	}

	targets := []struct {
		phase string
		dst   **float64
	}{{"oil", &data.KOil}, {"gas", &data.KGas}, {"water", &data.KWater}}
	for _, target := range targets {
		m := reportKPatterns[target.phase].FindStringSubmatch(text)
		if m == nil {
			data.Missing = append(data.Missing, "k_"+target.phase)
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			data.Missing = append(data.Missing, "k_"+target.phase)
			continue
		}
		*target.dst = &value
	}
	return data
}

func parseReportDate(value string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
