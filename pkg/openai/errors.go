package openai

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

// classify maps go-openai errors to backend error kinds. Its errors do not
// carry response headers, so a rate limit never has a RetryAfter hint and
// the dispatcher falls back to its own backoff.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.BackendError{Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.BackendError{Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &domain.BackendError{Kind: domain.BackendTransient, Err: err}
	}
	return err
}

func kindForStatus(code int) domain.BackendErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.BackendRateLimited
	case code == http.StatusRequestTimeout || code >= 500 || code == 0:
		return domain.BackendTransient
	default:
		return domain.BackendPermanent
	}
}
