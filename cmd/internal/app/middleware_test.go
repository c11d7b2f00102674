package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestLogging(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path      string
		status    int
		wantLevel string
	}{
		{path: "/events", status: http.StatusOK, wantLevel: "INFO"},
		{path: "/events", status: http.StatusBadRequest, wantLevel: "WARN"},
		{path: "/healthz", status: http.StatusOK, wantLevel: "DEBUG"},
		{path: "/readyz", status: http.StatusServiceUnavailable, wantLevel: "ERROR"},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("abc"))
		}), log)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("%s %d: decode %q: %v", tc.path, tc.status, buf.String(), err)
		}
		if entry["msg"] != "http.request" || entry["level"] != tc.wantLevel {
			t.Fatalf("%s %d: entry=%v want level=%s", tc.path, tc.status, entry, tc.wantLevel)
		}
		if entry["status"] != float64(tc.status) || entry["bytes"] != float64(3) || entry["path"] != tc.path {
			t.Fatalf("%s %d: entry=%v", tc.path, tc.status, entry)
		}
	}
}

func TestLoggingResponseWriter_HijackUnsupported(t *testing.T) {
	t.Parallel()

	lrw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := lrw.Hijack(); err == nil {
		t.Fatalf("expected hijack error on a recorder")
	}
	if lrw.hijacked {
		t.Fatalf("hijacked=true after failed hijack")
	}
	if lrw.Unwrap() == nil {
		t.Fatalf("Unwrap returned nil")
	}
}
