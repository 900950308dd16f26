package dispatch

import (
	"errors"
	"fmt"
)

// DeliveryError reports a failed outbound send. Transient failures (5xx,
// rate limiting, network errors) may be retried inside the dispatcher's own
// budget; permanent failures (4xx) are surfaced immediately.
type DeliveryError struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (e *DeliveryError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}

	return fmt.Sprintf("delivery failed (%s, HTTP %d): %s", class, e.StatusCode, e.Message)
}

// ExternalCallError reports an action node's REST call failure after the
// dispatcher's retry budget is exhausted. The engine does not retry further.
type ExternalCallError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("external call failed after %d attempts (HTTP %d): %v", e.Attempts, e.StatusCode, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// IsDeliveryError checks if an error is an outbound delivery failure.
func IsDeliveryError(err error) bool {
	var de *DeliveryError

	return errors.As(err, &de)
}

// IsTransientDelivery checks if an error is a retryable delivery failure.
func IsTransientDelivery(err error) bool {
	var de *DeliveryError

	return errors.As(err, &de) && de.Transient
}

// IsExternalCallError checks if an error is a final external call failure.
func IsExternalCallError(err error) bool {
	var ece *ExternalCallError

	return errors.As(err, &ece)
}
