// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between component boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// DeckRequest caps a single call to the remote deck service.
const DeckRequest = 3 * time.Second

// LedgerRequest caps a single payout credit call to the wallet ledger.
const LedgerRequest = 3 * time.Second

// Publish caps a single broadcast publish to the pub/sub transport.
const Publish = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
