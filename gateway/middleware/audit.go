package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"lendpool/gateway/audit"
)

// maxAuditBody caps how much of a request or response the journal retains.
const maxAuditBody = 1 << 20

// Audit journals every request passing through it together with the outcome.
// Mount it on mutating route groups only; the journal grows with traffic.
func Audit(journal *audit.Journal, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if journal == nil {
				next.ServeHTTP(w, r)
				return
			}
			reader := http.MaxBytesReader(w, r.Body, maxAuditBody)
			requestBody, err := io.ReadAll(reader)
			if err != nil {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(requestBody))

			recorder := &captureRecorder{StatusRecorder: StatusRecorder{ResponseWriter: w, Status: http.StatusOK}}
			next.ServeHTTP(recorder, r)

			entry := audit.Entry{
				Actor:        actorFor(r),
				Method:       r.Method,
				Path:         r.URL.Path,
				Status:       recorder.Status,
				RequestBody:  requestBody,
				ResponseBody: recorder.body.Bytes(),
			}
			if _, err := journal.Append(r.Context(), entry); err != nil {
				logger.Error("audit append failed",
					"error", err.Error(),
					"path", r.URL.Path,
					"request_id", RequestIDFrom(r.Context()),
				)
			}
		})
	}
}

func actorFor(r *http.Request) string {
	if subject := Subject(r.Context()); subject != "" {
		return subject
	}
	return clientID(r)
}

type captureRecorder struct {
	StatusRecorder
	body bytes.Buffer
}

func (c *captureRecorder) Write(p []byte) (int, error) {
	if c.body.Len() < maxAuditBody {
		remain := maxAuditBody - c.body.Len()
		if remain > len(p) {
			remain = len(p)
		}
		c.body.Write(p[:remain])
	}
	return c.ResponseWriter.Write(p)
}
