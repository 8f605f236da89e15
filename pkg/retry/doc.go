// Package retry provides exponential backoff retry logic for the gateway.
//
// It is used at startup and reload when fetching subgraph SDL via
// _service { sdl }: a subgraph that is still booting should not fail the
// whole gateway, so registration retries with backoff before giving up.
//
// Errors wrapped with NonRetryable abort immediately; this is how malformed
// SDL (which will never parse no matter how often it is fetched) escapes
// the retry loop.
package retry
