// internal/swap/errors.go
package swap

import (
	"fmt"
	"strings"
)

// SlippageExceededError представляет ошибку превышения slippage
type SlippageExceededError struct {
	Message string
}

func (e *SlippageExceededError) Error() string {
	return fmt.Sprintf("slippage exceeded: %s", e.Message)
}

// RejectedError is returned when the service refuses an order for a reason
// that a retry will not fix.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected (status %d, code %q): %s", e.StatusCode, e.Code, e.Message)
}

// IsSlippageExceeded reports whether an error body describes a slippage failure.
func IsSlippageExceeded(code, message string) bool {
	if code == "slippage_exceeded" {
		return true
	}
	msg := strings.ToLower(message)
	return strings.Contains(msg, "slippage") || strings.Contains(msg, "exceedsdesiredslippagelimit")
}
