package scoring

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelNotReady is returned by read paths before any training run has
// published a snapshot. It is retryable: the caller triggers training and
// tries again.
var ErrModelNotReady = errors.New("model not ready: no trained snapshot")

// ValidationError names the required applicant fields that are missing or
// out of range. It is a caller error, not a server fault.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid applicant record: %s", strings.Join(e.Fields, ", "))
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
