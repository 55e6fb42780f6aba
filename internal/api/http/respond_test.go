package apihttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mpfm-monitor/internal/validation"
)

var errMissing = errors.New("thing: not found")

func TestWriteErrorMapsStatus(t *testing.T) {
	RegisterNotFound(errMissing)

	cases := []struct {
		err  error
		code int
	}{
		{validation.Errorf("bad"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", errMissing), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		require.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestParseRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?from=2026-01-01&to=2026-01-31T00:00:00Z", nil)
	from, to, err := ParseRange(req)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), to)

	req = httptest.NewRequest(http.MethodGet, "/x?from=2026-02-01&to=2026-01-01", nil)
	_, _, err = ParseRange(req)
	require.ErrorIs(t, err, validation.ErrInvalid)
}

func TestSplitPathAndExportFormat(t *testing.T) {
	require.Equal(t, []string{"abc", "ack"}, SplitPath("/api/v1/alerts/abc/ack", "/api/v1/alerts/"))
	require.Nil(t, SplitPath("/api/v1/alerts", "/api/v1/alerts"))
	format, ok := ExportFormat("export.xlsx", "export")
	require.True(t, ok)
	require.Equal(t, "xlsx", format)
	_, ok = ExportFormat("export", "export")
	require.False(t, ok)
}
