// Package pagination provides parallel batch fetching for paginated
// endpoints.
//
// Many list endpoints report a total page count alongside the first page.
// This package implements a worker pool pattern to fetch all remaining
// pages concurrently while bounding parallelism so the resilience layers
// underneath (circuit breakers, error budget) are not overwhelmed.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(pageFetcher, config)
//	results, err := fetcher.FetchAllPages(ctx, "markets/orders")
//
// The batch fetcher:
//   - Fetches the first page to determine total pages
//   - Spawns a worker pool (default 10 workers)
//   - Distributes remaining pages across workers
//   - Collects results with progress logging
//   - Handles errors gracefully (returns partial data)
package pagination
