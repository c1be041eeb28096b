// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control is the runtime's operational plane: typed
// configuration with a dynamic overlay store, logger construction and
// the metrics registry.
//
// Nothing in this package sits on a hot path. Loops and channels read
// their tunables once at construction; the dynamic store exists for
// operators and tests that adjust the runtime while it serves.
package control
