// Package audit produces a single structured audit entry per request,
// accumulated across middleware and handlers and written when the request
// completes. The entry is written even when a handler panics.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Level is the level audit entries are written at. It is above Panic so
// audit output survives any level filtering short of disabling the logger.
const Level = zerolog.Level(16)

type auditContextKey struct{}

// Entry is the audit record for one request. Fields are populated as the
// request progresses: request details by the middleware, authorization
// details by the JWT middleware, tool details by the tool handler.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Tool      string
	Resource  string
	ToolError bool

	Authorized     bool
	AuthSubject    string
	AuthIssuer     string
	AuthAudience   []string
	AuthExpirySecs int64

	Error string
}

// Context returns a context carrying an audit entry, creating one when the
// context has none. The returned entry can be mutated for the life of the
// request.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(auditContextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, auditContextKey{}, entry), entry
}

// Log returns the entry for the current request. When no entry is present a
// detached entry is returned: mutations are accepted but never written.
func Log(ctx context.Context) *Entry {
	_, entry := Context(ctx)
	return entry
}

// Begin populates the entry with the request's details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.SourceIP = r.RemoteAddr
	e.UserAgent = r.UserAgent()
}

// End returns the function that writes the entry, suitable for deferral.
// A zero status is recorded as 200, matching net/http's implicit status.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		zerolog.Ctx(ctx).WithLevel(Level).
			EmbedObject(e).
			Msg("audit")
	}
}

// Middleware creates the request's audit entry and guarantees it is written
// exactly once, on completion or panic. Panics are recorded on the entry and
// re-raised for the server's recovery handling.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			sw := &statusWriter{ResponseWriter: w}

			defer func() {
				if p := recover(); p != nil {
					if entry.Error != "" {
						entry.Error = fmt.Sprintf("%s; panic: %v", entry.Error, p)
					} else {
						entry.Error = fmt.Sprintf("panic: %v", p)
					}
					entry.End(ctx)()
					panic(p)
				}

				entry.Status = sw.status
				entry.End(ctx)()
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))
		})
	}
}

// MarshalZerologObject writes the entry as nested dictionaries: request and
// authorization always, tool and error only when populated.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	event.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	tool := NewOptionalEvent(zerolog.Dict()).
		Str("name", e.Tool).
		Str("resource", e.Resource)
	if e.ToolError {
		tool.Bool("failed", true)
	}
	tool.Set(event, "tool")

	auth := NewOptionalEvent(zerolog.Dict()).
		Bool("authorized", e.Authorized).
		Str("subject", e.AuthSubject).
		Str("issuer", e.AuthIssuer).
		Strs("audience", e.AuthAudience)
	if e.AuthExpirySecs > 0 {
		expiry := time.Unix(e.AuthExpirySecs, 0)
		auth.Event().
			Time("expiry", expiry).
			Dur("expiryRemaining", time.Until(expiry))
	}
	auth.Set(event, "authorization")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
