// File: server/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package server bootstraps the canonical boss/worker topology: one
// accept-side loop group feeding accepted channels round-robin into a
// worker group, plus the auxiliary executor pool and the metrics
// registry wired to both.
//
// Applications describe a channel's pipeline once in an initializer
// and hand it to New; everything else is configuration.
package server
