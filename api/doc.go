// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the public contracts of the netloop runtime:
// channels, pipelines, handlers, buffers, pollers and executors.
//
// The package contains interfaces and small value types only. Concrete
// implementations live in the reactor, channel, pool and
// core/concurrency packages. Application code implements the handler
// capability interfaces and consumes the rest.
package api
