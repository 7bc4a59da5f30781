package httpmiddleware

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader - заголовок для сопоставления наших логов с логами брокера
const RequestIDHeader = "X-Request-ID"

// DefaultTransport - транспорт брокерских REST API.
// Keep-alive соединения переиспользуются между вызовами одного клиента из пула,
// поэтому dialTimeout короче общего таймаута запроса.
func DefaultTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       5 * time.Minute,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: 2 * dialTimeout,
	}
}

type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type Middleware func(http.RoundTripper) http.RoundTripper

// Wrap собирает цепочку; первый middleware - внешний
func Wrap(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}
	return base
}

// RequestGetBodySetter выставляет GetBody, чтобы тело можно было отправить повторно
func RequestGetBodySetter(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
			return next.RoundTrip(req)
		}

		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}

		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}

		return next.RoundTrip(req)
	})
}

// DefaultHeaders добавляет заголовки, которых нет в запросе. Заголовки запроса важнее.
func DefaultHeaders(headers map[string]string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			for k, v := range headers {
				if req.Header.Get(k) == "" {
					req.Header.Set(k, v)
				}
			}
			return next.RoundTrip(req)
		})
	}
}

// RequestID помечает каждый запрос уникальным X-Request-ID
func RequestID(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get(RequestIDHeader) == "" {
			req = req.Clone(req.Context())
			req.Header.Set(RequestIDHeader, uuid.NewString())
		}
		return next.RoundTrip(req)
	})
}
