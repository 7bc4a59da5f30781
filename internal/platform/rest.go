package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"propcopy/internal/httpmiddleware"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// lotStep - минимальный шаг объёма у всех поддерживаемых брокеров
var lotStep = decimal.New(1, -2)

// restClient - общий HTTP-транспорт адаптеров
type restClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newRESTClient(name, baseURL string, timeout time.Duration, logger *slog.Logger) *restClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: httpmiddleware.Wrap(
			httpmiddleware.DefaultTransport(min(timeout, 10*time.Second)),
			httpmiddleware.RequestGetBodySetter,
			httpmiddleware.RequestID,
			httpmiddleware.DefaultHeaders(map[string]string{
				"Content-Type": "application/json",
				"Accept":       "application/json",
			}),
			httpmiddleware.Logger(logger, -1),
		),
	}

	return &restClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
// Сетевые ошибки возвращаются как *TransportError, не-2xx и битый JSON как *ProtocolError.
func (c *restClient) do(ctx context.Context, op, method, path string, headers http.Header, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: c.name + " " + op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: c.name + " " + op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProtocolError{
			Op:         c.name + " " + op,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(respBody)), maxErrorBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProtocolError{
			Op:         c.name + " " + op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response: %v", err),
		}
	}

	return nil
}

// roundVolume округляет объём до шага лота
func roundVolume(volume float64) (float64, error) {
	v := decimal.NewFromFloat(volume).Div(lotStep).Round(0).Mul(lotStep)
	if !v.IsPositive() {
		return 0, fmt.Errorf("%w: %.4f lots rounds to zero", ErrInvalidVolume, volume)
	}

	return v.InexactFloat64(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
