package observability

import (
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/mekongeats/api/internal/platform/requestctx"
)

const (
	cloudTraceHeader  = "X-Cloud-Trace-Context"
	traceparentHeader = "traceparent"
)

// TraceMiddleware extracts trace identifiers from inbound headers and stores
// them on the request context so logs and error envelopes can be correlated.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader))
			if !ok {
				info, _ = parseTraceparent(r.Header.Get(traceparentHeader))
			}
			info.ProjectID = projectID

			ctx := requestctx.WithTrace(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseCloudTraceContext parses the "TRACE_ID/SPAN_ID;o=1" header format.
func parseCloudTraceContext(header string) (requestctx.TraceInfo, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return requestctx.TraceInfo{}, false
	}

	parts := strings.SplitN(header, "/", 2)
	if len(parts) != 2 {
		return requestctx.TraceInfo{}, false
	}

	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(parts[0]))
	if err != nil {
		return requestctx.TraceInfo{}, false
	}

	spanPart := parts[1]
	sampled := false
	if idx := strings.Index(spanPart, ";"); idx >= 0 {
		sampled = strings.Contains(spanPart[idx+1:], "o=1")
		spanPart = spanPart[:idx]
	}

	return requestctx.TraceInfo{
		TraceID: traceID.String(),
		SpanID:  strings.TrimSpace(spanPart),
		Sampled: sampled,
	}, true
}

// parseTraceparent parses the W3C "00-traceid-spanid-flags" header format.
func parseTraceparent(header string) (requestctx.TraceInfo, bool) {
	header = strings.TrimSpace(header)
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return requestctx.TraceInfo{}, false
	}

	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return requestctx.TraceInfo{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return requestctx.TraceInfo{}, false
	}

	return requestctx.TraceInfo{
		TraceID: traceID.String(),
		SpanID:  spanID.String(),
		Sampled: strings.HasSuffix(parts[3], "1"),
	}, true
}

// LoggingTraceResource formats the trace reference Cloud Logging correlates on.
func LoggingTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}
