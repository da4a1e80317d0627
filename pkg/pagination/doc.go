// Package pagination walks every page of a PandaScore collection endpoint.
//
// PandaScore does not report a total page count, so pages are requested one
// after another starting at page 1 until a page comes back empty:
//
//	fetcher := pagination.NewFetcher(apiClient, pagination.DefaultConfig())
//	leagues, err := fetcher.FetchCollection(ctx, "/leagues")
//
// Page N+1 is only requested after page N succeeded. A failed page aborts the
// whole collection: already fetched pages are discarded and the error wraps
// ErrFetchAborted, so "failed" is never confused with "empty".
package pagination
