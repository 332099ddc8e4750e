package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/metrics"
)

// hijackableRecorder is a ResponseRecorder that also supports hijacking, the
// way a real server connection does.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	client.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server))
	return server, rw, nil
}

func TestResponseWriterHijackPassthrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer must expose http.Hijacker")
		}
		conn, _, err := hijacker.Hijack()
		if err != nil {
			t.Fatalf("Hijack failed: %v", err)
		}
		conn.Close()
	})

	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	wrapped := LoggingMiddleware(logging.NewDefault("test"))(
		MetricsMiddleware("test", metrics.New())(handler))
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/tracker/live/s1", nil))

	if !rec.hijacked {
		t.Fatal("expected Hijack to reach the underlying writer")
	}
}

func TestResponseWriterHijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("expected an error when the underlying writer cannot hijack")
	}
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	rw.Flush() // ResponseRecorder implements http.Flusher
	if !rec.Flushed {
		t.Fatal("expected Flush to reach the underlying writer")
	}
}
