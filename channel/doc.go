// Package channel
// Author: momentics <momentics@gmail.com>
//
// TCP channels, their handler pipelines, the acceptor and the dialer.
//
// A channel binds to one event loop at registration and never moves.
// Inbound readiness turns into pipeline events on the loop thread;
// outbound writes traverse the pipeline tail to head into a buffered
// outbound queue with watermark backpressure. Handlers added with an
// auxiliary executor run off-loop; their pipeline calls hop back.
package channel
