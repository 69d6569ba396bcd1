// Package channel carries master-to-client messages.
//
// Every subscription owns one Inbox: an unbounded FIFO the master delivers
// into without ever blocking its commit lane. Messages cross the boundary
// as encoded frames, so a subscriber decodes a private copy and can never
// alias state held by the master or by another subscriber.
//
// The default wire codec is CBOR with Core Deterministic Encoding; a JSON
// codec is available for debugging and for the trace output of the CLI.
package channel
