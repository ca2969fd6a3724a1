package obs

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// Headers the suites attach to every browser and API request so sandbox log
// lines can be traced back to the session and test that caused them.
const (
	RequestIDHeader = "X-Request-Id"
	SessionHeader   = "X-Carsphere-Session"
	TestHeader      = "X-Carsphere-Test"
)

// statusWriter remembers what the handler answered.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware correlates each request with the suite session and test named in
// its headers, echoes the request id, and logs one http_access line tagged pkg.
// Server errors log at warn; everything else at debug.
func Middleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		corr := requestCorrelation(r)
		w.Header().Set(RequestIDHeader, corr.RequestID)
		ctx := WithCorrelation(r.Context(), corr)

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(ctx))
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		log := From(ctx).With("pkg", pkg).Debug
		if sw.status >= http.StatusInternalServerError {
			log = From(ctx).With("pkg", pkg).Warn
		}
		log("http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"dur_ms", float64(time.Since(start).Microseconds())/1000,
			"resp_bytes", sw.bytes,
		)
	})
}

// requestCorrelation prefers an explicit request id, then the W3C trace id,
// then a fresh id.
func requestCorrelation(r *http.Request) Correlation {
	header := func(name string) string { return strings.TrimSpace(r.Header.Get(name)) }
	corr := Correlation{
		RequestID:   header(RequestIDHeader),
		Traceparent: header("traceparent"),
		SessionID:   header(SessionHeader),
		TestName:    header(TestHeader),
	}
	corr.TraceID = traceID(corr.Traceparent)
	if corr.RequestID == "" {
		corr.RequestID = corr.TraceID
	}
	if corr.RequestID == "" {
		corr.RequestID = newRequestID()
	}
	return corr
}

// traceID returns the trace-id field of a traceparent header, or "" when the
// header is malformed or carries the all-zero id.
func traceID(traceparent string) string {
	fields := strings.Split(traceparent, "-")
	if len(fields) != 4 || len(fields[1]) != 32 {
		return ""
	}
	id := strings.ToLower(fields[1])
	raw, err := hex.DecodeString(id)
	if err != nil {
		return ""
	}
	for _, b := range raw {
		if b != 0 {
			return id
		}
	}
	return ""
}
