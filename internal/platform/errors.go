package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidVolume       = errors.New("invalid volume")
)

// TransportError - ошибка сетевого уровня (refused, timeout, reset)
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError - не-2xx ответ или битый payload
type ProtocolError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: protocol error: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsAuth возвращает true для 401/403
func (e *ProtocolError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// AuthenticationError - не удалось получить или обновить токен доступа
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

var connectionErrors = []string{
	"econnrefused",
	"connection refused",
	"enotfound",
	"no such host",
	"etimedout",
	"timed out",
	"econnreset",
	"connection reset",
	"network error",
	"timeout",
}

// IsConnectionError определяет, что ошибка сетевая и соединение стоит считать нездоровым
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range connectionErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}

// IsRetryable возвращает true для ошибок, после которых имеет смысл повторить запрос
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnsupportedPlatform) || errors.Is(err, ErrInvalidVolume) {
		return false
	}

	var (
		transportErr *TransportError
		protocolErr  *ProtocolError
		authErr      *AuthenticationError
	)

	return errors.As(err, &transportErr) ||
		errors.As(err, &protocolErr) ||
		errors.As(err, &authErr) ||
		IsConnectionError(err)
}
