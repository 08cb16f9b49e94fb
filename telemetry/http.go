package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TracingMiddlewareConfig configures the tracing middleware behavior.
type TracingMiddlewareConfig struct {
	// ExcludedPaths lists URL paths to exclude from tracing, such as
	// "/healthcheck".
	ExcludedPaths []string

	// SpanNameFormatter customizes how span names are generated.
	// If nil, uses "HTTP {method} {path}" format.
	SpanNameFormatter func(operation string, r *http.Request) string
}

// TracingMiddleware returns HTTP middleware that extracts W3C trace context
// from incoming requests and creates a span for each one. Without a Provider
// the global no-op tracer is used.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	return TracingMiddlewareWithConfig(serviceName, nil)
}

// TracingMiddlewareWithConfig returns HTTP middleware with custom configuration.
func TracingMiddlewareWithConfig(serviceName string, config *TracingMiddlewareConfig) func(http.Handler) http.Handler {
	var opts []otelhttp.Option

	if config != nil && len(config.ExcludedPaths) > 0 {
		pathSet := make(map[string]bool)
		for _, path := range config.ExcludedPaths {
			pathSet[path] = true
		}
		opts = append(opts, otelhttp.WithFilter(func(r *http.Request) bool {
			return !pathSet[r.URL.Path]
		}))
	}

	if config != nil && config.SpanNameFormatter != nil {
		opts = append(opts, otelhttp.WithSpanNameFormatter(config.SpanNameFormatter))
	} else {
		opts = append(opts, otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}))
	}

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}

// NewTracedHTTPClient creates an HTTP client that propagates trace context to
// the registry service. A nil baseTransport uses http.DefaultTransport.
//
//	client := telemetry.NewTracedHTTPClient(nil)
//	registry, err := core.NewHTTPRegistry(url, core.WithHTTPClient(client))
func NewTracedHTTPClient(baseTransport http.RoundTripper) *http.Client {
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(baseTransport),
		Timeout:   10 * time.Second,
	}
}
