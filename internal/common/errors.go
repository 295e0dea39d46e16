// This file contains the root errors of the harness error taxonomy. Every component error wraps exactly one
// of these roots, so callers can branch on the category (errors.Is(err, common.ErrConfig)) or on the specific
// failure (errors.Is(err, transforms.ErrMalformedManifest)).

package common

import "errors"

var (
	// ErrConfig is the root of bad or missing configuration: manifest fields, flags, unknown modes.
	// Config errors are raised before any rendering starts.
	ErrConfig = errors.New("config error")
	// ErrIO is the root of filesystem failures: missing files, unwritable output directories.
	ErrIO = errors.New("io error")
	// ErrRenderer is the root of failures reported by the external renderer. They are never retried.
	ErrRenderer = errors.New("renderer error")
)
