package forcesim

import "errors"

// ErrValidation marks a request rejected locally before anything is sent to
// the instance. Callers match it with errors.Is; the wrapping error carries
// the detail.
var ErrValidation = errors.New("validation error")
