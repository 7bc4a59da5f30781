package httpmiddleware

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

var sensitiveHeaders = []string{
	"authorization",
	"auth-token",
	"cookie",
	"set-cookie",
	"x-api-key",
	"x-auth-token",
}

// Logger creates a logging middleware for broker traffic.
// maxBodySize controls body logging:
//   - 0: no body logging
//   - -1: log entire body
//   - >0: log first N bytes of body
//
// Login payloads are never logged: the body of requests to paths containing "/auth/" is skipped.
func Logger(logger *slog.Logger, maxBodySize int) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("url", req.URL.Redacted()),
				slog.Any("headers", headerGroup(req.Header)),
			}

			if maxBodySize != 0 && !strings.Contains(req.URL.Path, "/auth/") && req.Body != nil && req.Body != http.NoBody {
				body, err := readBody(req.Body, maxBodySize)
				if err == nil {
					req.Body = io.NopCloser(bytes.NewReader(body))
					attrs = append(attrs, slog.String("request_body", string(body)))
				}
			}

			start := time.Now()
			resp, err := next.RoundTrip(req)
			attrs = append(attrs, slog.Duration("duration", time.Since(start)))

			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
				logger.LogAttrs(req.Context(), slog.LevelWarn, "Broker request failed", attrs...)

				return resp, err
			}

			attrs = append(attrs, slog.Int("status", resp.StatusCode))

			if maxBodySize != 0 && resp.Body != nil {
				body, err := readBody(resp.Body, maxBodySize)
				if err == nil {
					resp.Body = io.NopCloser(bytes.NewReader(body))
					attrs = append(attrs, slog.String("response_body", string(body)))
				}
			}

			level := slog.LevelDebug
			switch {
			case resp.StatusCode >= 500:
				level = slog.LevelError
			case resp.StatusCode >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(req.Context(), level, "Broker request", attrs...)

			return resp, nil
		})
	}
}

func headerGroup(h http.Header) slog.Value {
	attrs := make([]slog.Attr, 0, len(h))
	for k, v := range h {
		if isSensitiveHeader(k) {
			attrs = append(attrs, slog.String(k, "[REDACTED]"))
			continue
		}
		attrs = append(attrs, slog.String(k, strings.Join(v, ", ")))
	}

	return slog.GroupValue(attrs...)
}

// readBody reads the body up to maxBodySize bytes.
// When the body is truncated, the rest is lost for the caller, so -1 is used for broker responses.
func readBody(body io.ReadCloser, maxBodySize int) ([]byte, error) {
	defer body.Close()

	if maxBodySize == -1 {
		return io.ReadAll(body)
	}

	buf := make([]byte, maxBodySize)
	n, err := io.ReadFull(body, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return buf[:n], nil
}

func isSensitiveHeader(name string) bool {
	return slices.Contains(sensitiveHeaders, strings.ToLower(name))
}
