package llm

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/kestrelgames/taleweaver/game/retry"
)

// ProviderError is a non-2xx response from the model provider. It
// exposes the status for retry classification: 429 and 5xx are worth
// repeating, auth and other 4xx failures are not.
type ProviderError struct {
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider returned HTTP %d: %v", e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatus exposes the status for retry classification.
func (e *ProviderError) HTTPStatus() int {
	return e.Status
}

var _ retry.StatusCoder = (*ProviderError)(nil)

// IsAuthError reports whether err is a provider authentication or
// authorization failure. These abort immediately, without retries.
func IsAuthError(err error) bool {
	switch httpStatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// IsRateLimited reports whether the provider rejected the call with 429.
func IsRateLimited(err error) bool {
	return httpStatusOf(err) == http.StatusTooManyRequests
}

func httpStatusOf(err error) int {
	var provider *ProviderError
	if errors.As(err, &provider) {
		return provider.Status
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// wrapProviderErr attaches the provider HTTP status when one exists;
// transport and deadline failures pass through with context only.
func wrapProviderErr(err error, op string) error {
	if status := httpStatusOf(err); status > 0 {
		return &ProviderError{Status: status, Err: err}
	}
	return errors.Wrapf(err, "llm: %s", op)
}
