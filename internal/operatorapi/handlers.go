package operatorapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/rustyproxy/rustyproxy/internal/capturestore"
	"github.com/rustyproxy/rustyproxy/internal/scanner"
)

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleListRequests handles GET /requests.
func handleListRequests(store capturestore.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captures, err := store.ListCaptures()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		items := make([]captureView, 0, len(captures))
		for _, c := range captures {
			items = append(items, viewCapture(c))
		}
		writeJSON(w, http.StatusOK, items)
	})
}

// handleGetRequest handles GET /requests/{id}.
func handleGetRequest(store capturestore.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		capture, ok, err := store.GetCaptureByID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}
		writeJSON(w, http.StatusOK, viewCapture(capture))
	})
}

// handleRepeat handles GET /repeat/{id}: resend the stored request and
// stream the upstream response back verbatim.
func handleRepeat(store capturestore.Store, sc *scanner.Scanner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		capture, ok, err := store.GetCaptureByID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}

		resp, err := sc.ResendRequest(capture.Request)
		if err != nil {
			writeError(w, http.StatusBadGateway, "REQUEST_FAILED", err.Error())
			return
		}
		defer resp.Body.Close()

		header := w.Header()
		resp.Headers.Each(func(k, v string) { header.Add(k, v) })
		w.WriteHeader(resp.Code)
		if _, err := io.Copy(w, resp.Body); err != nil {
			// Response headers are already flushed; nothing left to do but
			// stop streaming.
			return
		}
	})
}

// handleScan handles GET /scan/{id}: run the reflected-XSS probe and
// return the reflected parameter names as a JSON array.
func handleScan(store capturestore.Store, sc *scanner.Scanner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		capture, ok, err := store.GetCaptureByID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
			return
		}

		found, err := sc.ScanXSS(capture)
		if err != nil {
			code := "UNKNOWN"
			switch {
			case errors.Is(err, scanner.ErrRequestFailed):
				code = "REQUEST_FAILED"
			case errors.Is(err, scanner.ErrBodyLoadFailed):
				code = "BODY_LOAD_FAILED"
			}
			writeError(w, http.StatusBadGateway, code, err.Error())
			return
		}
		if found == nil {
			found = []string{}
		}
		writeJSON(w, http.StatusOK, found)
	})
}
