package arbiter

import (
	"errors"
	"fmt"
	"time"

	"arbiterd/pkg/types"
)

type timeoutError struct {
	service types.ServiceType
	timeout time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for gpu for %s", e.timeout, e.service)
}

// ErrTimeout builds the error returned when a request's wait budget runs out.
func ErrTimeout(service types.ServiceType, timeout time.Duration) error {
	return &timeoutError{service: service, timeout: timeout}
}

// IsTimeout reports whether err is a wait-budget expiry.
func IsTimeout(err error) bool {
	var e *timeoutError
	return errors.As(err, &e)
}

type resourceUnavailableError struct {
	service types.ServiceType
}

func (e *resourceUnavailableError) Error() string {
	return fmt.Sprintf("gpu unavailable for %s: control plane down and service not responding", e.service)
}

// ErrResourceUnavailable builds the fail-fast error for requests that could
// never be satisfied because both the control plane and the target service
// are unreachable.
func ErrResourceUnavailable(service types.ServiceType) error {
	return &resourceUnavailableError{service: service}
}

// IsResourceUnavailable reports whether err is the fail-fast rejection.
func IsResourceUnavailable(err error) bool {
	var e *resourceUnavailableError
	return errors.As(err, &e)
}
