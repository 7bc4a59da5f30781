package httpmiddleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWrapOrder(t *testing.T) {
	var order []string

	mark := func(name string) Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(req)
			})
		}
	}

	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "http://broker.test/ping", nil)
	if _, err := Wrap(base, mark("outer"), mark("inner")).RoundTrip(req); err != nil {
		t.Fatal(err)
	}

	if got := strings.Join(order, ","); got != "outer,inner,base" {
		t.Errorf("unexpected order %s", got)
	}
}

func TestDefaultHeadersAndGetBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("default header missing: %v", r.Header)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("request id missing")
		}
		if r.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("request header overwritten: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	var seenGetBody bool
	probe := func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			seenGetBody = req.GetBody != nil
			return next.RoundTrip(req)
		})
	}

	client := &http.Client{Transport: Wrap(
		DefaultTransport(0),
		RequestGetBodySetter,
		RequestID,
		DefaultHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		}),
		probe,
	)}

	req, _ := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader("hello")))
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("body lost: %q", body)
	}
	if !seenGetBody {
		t.Error("GetBody must be set")
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad volume"}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := &http.Client{Transport: Wrap(DefaultTransport(time.Second), Logger(logger, -1))}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/login", strings.NewReader(`{"password":"hunter2"}`))
	req.Header.Set("Authorization", "Bearer top-secret")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	out := logs.String()
	if strings.Contains(out, "top-secret") || strings.Contains(out, "hunter2") {
		t.Errorf("secrets leaked to log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, "level=WARN") {
		t.Errorf("unexpected log: %s", out)
	}
	if string(body) != `{"error":"bad volume"}` {
		t.Errorf("response body must stay readable, got %q", body)
	}
}

func TestReadBodyTruncates(t *testing.T) {
	got, err := readBody(io.NopCloser(strings.NewReader("abcdef")), 3)
	if err != nil || string(got) != "abc" {
		t.Errorf("got %q, %v", got, err)
	}
}
