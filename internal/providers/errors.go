package providers

import "errors"

// ErrNoProvidersConfigured is fatal at startup, never surfaced per-request.
var ErrNoProvidersConfigured = errors.New("no providers configured")
