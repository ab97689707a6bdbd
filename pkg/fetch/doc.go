// Package fetch provides chunked batch fetching of registry studies with
// result reconciliation.
//
// The registry answers an OR query over a chunk of identifiers with the
// studies it finds, in no guaranteed order and possibly including studies that
// were not asked for. The fetcher partitions the identifier records into
// chunks, queries each chunk, and keeps only studies whose canonical
// identifier was requested by that chunk. Each kept study is augmented with
// the record's application_id and project.
//
// Example usage:
//
//	f, err := fetch.New(registryClient, fetch.DefaultConfig())
//	result, err := f.Fetch(ctx, records)
//	for _, miss := range result.Report.Misses { ... }
//
// The batch fetcher:
//   - Queries chunks sequentially by default, or on a bounded errgroup
//   - Emits studies in chunk order regardless of concurrency
//   - Logs and counts reconciliation misses instead of failing
//   - Drops a study already emitted for the same identifier
//   - Skips or aborts on a failed chunk according to Policy
package fetch
