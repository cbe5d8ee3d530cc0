package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mux registers handlers on an http.ServeMux with per-route OTel
// instrumentation, so each route's spans are tagged with its pattern rather
// than the raw request path.
type Mux struct {
	wrapped *http.ServeMux
}

func NewMux() *Mux {
	return &Mux{wrapped: http.NewServeMux()}
}

// Handle registers the handler for the given ServeMux pattern, wrapped with
// OTel span creation named for the route.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, otelhttp.NewHandler(handler, RouteTag(pattern)))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// RouteTag derives the span name for a ServeMux pattern, stripping the
// method prefix when one is present.
func RouteTag(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
