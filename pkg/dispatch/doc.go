// Package dispatch runs tile fetches over a planned grid with bounded
// concurrency.
//
// The dispatcher spawns at most Concurrency parallel fetches and drives
// every tile to a terminal state: a decoded buffer, or a classified
// failure after retries are exhausted. Transient errors are retried with
// exponential, jittered backoff using the identical tile descriptor;
// permanent and decode errors are finalized immediately.
//
// Example usage:
//
//	d := dispatch.New(fetch.NewFetcher(client), dispatch.DefaultConfig())
//	results := d.Run(ctx, "sentinel-2/T32UNE", "B04", spec, g)
//
// The dispatcher:
//   - Bounds parallelism with a worker limit
//   - Accounts for every tile exactly once, even on worker panics
//   - Returns results ordered by tile index, not completion order
//   - Finalizes pending tiles as cancelled when the context is done
package dispatch
