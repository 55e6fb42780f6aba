package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mpfm-monitor/internal/validation"
)

const (
	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"

	maxBodyBytes = 1 << 20
)

var (
	errorsMu       sync.RWMutex
	notFoundErrors []error
	conflictErrors []error
)

// RegisterNotFound marks errors that handlers translate to 404 responses.
func RegisterNotFound(errs ...error) {
	errorsMu.Lock()
	notFoundErrors = append(notFoundErrors, errs...)
	errorsMu.Unlock()
}

// RegisterConflict marks errors that handlers translate to 409 responses.
func RegisterConflict(errs ...error) {
	errorsMu.Lock()
	conflictErrors = append(conflictErrors, errs...)
	errorsMu.Unlock()
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps domain errors to HTTP status codes.
func WriteError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	errorsMu.RLock()
	notFound := matchesAny(err, notFoundErrors)
	conflict := matchesAny(err, conflictErrors)
	errorsMu.RUnlock()

	switch {
	case errors.Is(err, validation.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case notFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case conflict:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// WriteFile sends a downloadable payload.
func WriteFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return validation.Errorf("request body required")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return validation.Errorf("invalid json: %v", err)
	}
	return nil
}

// ParseTimeQuery parses an optional RFC3339 or YYYY-MM-DD query parameter.
func ParseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return time.Time{}, nil
	}
	return ParseTime(key, value)
}

// ParseTime accepts RFC3339 timestamps and plain dates.
func ParseTime(key, value string) (time.Time, error) {
	if parsed, err := time.Parse(timeLayout, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(dateLayout, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, validation.Errorf("%s must be RFC3339 or YYYY-MM-DD", key)
}

// ParseRange parses from/to and checks ordering when both are present.
func ParseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := ParseTimeQuery(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseTimeQuery(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, validation.Errorf("to must be after from")
	}
	return from, to, nil
}

// ParseIntQuery parses an optional integer query parameter.
func ParseIntQuery(r *http.Request, key string, fallback int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, validation.Errorf("%s must be an integer", key)
	}
	return parsed, nil
}

// SplitPath returns the non-empty segments after prefix.
func SplitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// ExportFormat extracts the extension from names like "export.csv".
func ExportFormat(segment, base string) (string, bool) {
	if !strings.HasPrefix(segment, base+".") {
		return "", false
	}
	format := strings.TrimPrefix(segment, base+".")
	return format, format != ""
}

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	switch format {
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	case "xml":
		return "application/xml"
	default:
		return "application/octet-stream"
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
