package httpapi

import (
	_ "embed"
	"fmt"
	"net/http"
	"strconv"
)

//go:embed static/tracker.js
var trackerJS []byte

// TrackerSnippet renders the HTML tag a site embeds to load the tracker.
func TrackerSnippet(trackingCode string) string {
	return fmt.Sprintf(`<script async src="/tracker.js" data-site=%q></script>`, trackingCode)
}

func (h *handler) trackerScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(trackerJS)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(trackerJS)
}
