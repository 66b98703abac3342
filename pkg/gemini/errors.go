package gemini

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"google.golang.org/genai"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"

// classify maps a GenerateContent error onto the backend error taxonomy.
func classify(err error) error {
	if apiErr, ok := asAPIError(err); ok {
		return &domain.BackendError{
			Kind:       kindForStatus(apiErr.Code),
			StatusCode: apiErr.Code,
			RetryAfter: retryDelay(apiErr.Details),
			Err:        err,
		}
	}

	if isTransportError(err) {
		return &domain.BackendError{Kind: domain.BackendTransient, Err: err}
	}
	return err
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

func kindForStatus(code int) domain.BackendErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.BackendRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return domain.BackendTransient
	default:
		return domain.BackendPermanent
	}
}

// retryDelay reads the server hint from a google.rpc.RetryInfo detail,
// e.g. {"@type": "...RetryInfo", "retryDelay": "7s"}.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if d["@type"] != retryInfoType {
			continue
		}
		raw, ok := d["retryDelay"].(string)
		if !ok {
			continue
		}
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay
		}
	}
	return 0
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
