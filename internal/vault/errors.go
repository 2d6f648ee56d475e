package vault

import "errors"

// ErrNotFound is returned when a user has no stored credentials for the
// requested exchange/environment.
var ErrNotFound = errors.New("credentials not found")
