// Package timeouts defines shared timeout constants used across the hub.
// Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// HTTPRequest is the default cap for one outbound request to a merchant server.
const HTTPRequest = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
