package webserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/checkdeck/checkdeck/internal/models"
)

// routes builds the API and static route table for a validated config.
func routes(cfg Config) http.Handler {
	reportPath := filepath.Join(cfg.OutputDir, "report.json")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/report", handleReport(reportPath))
	mux.HandleFunc("GET /api/summary", handleSummary(reportPath))
	mux.HandleFunc("/api/", handleAPIUnknown)

	mux.Handle("/", outputHandler(cfg.OutputDir))
	return mux
}

// handleHealth returns a simple health check response.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReport serves the raw run report.
func handleReport(reportPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report, err := models.LoadReport(reportPath)
		if err != nil {
			writeReportError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// handleSummary serves the derived numbers a dashboard wants without the
// full result list.
func handleSummary(reportPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report, err := models.LoadReport(reportPath)
		if err != nil {
			writeReportError(w, err)
			return
		}

		success, failure, skipped := report.Counts()
		writeJSON(w, http.StatusOK, map[string]any{
			"pipeline":   report.Pipeline,
			"overall":    report.Overall(),
			"units":      len(report.Units),
			"checks":     len(report.Checks),
			"success":    success,
			"failure":    failure,
			"skipped":    skipped,
			"durationMs": report.DurationMs,
		})
	}
}

// handleAPIUnknown returns 404 for unknown API endpoints so they do not
// fall through to the file server.
func handleAPIUnknown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
}

func writeReportError(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report.json in output directory; run the pipeline first"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// outputHandler serves the rendered files. Responses are uncacheable so a
// re-rendered report shows up on refresh.
func outputHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	})
}
