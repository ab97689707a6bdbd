package fetch

import "github.com/Sternrassler/clinical-trials-client/pkg/client"

// Miss is a returned study whose identifier was not requested by its chunk.
type Miss struct {
	Chunk      int
	Identifier string
}

// Report summarizes a fetch.
type Report struct {
	// Requested is the number of identifier records passed to Fetch
	Requested int

	// Chunks is the number of chunks the records were partitioned into
	Chunks int

	// Queried is the number of chunks whose outcome is included (less than
	// Chunks after an abort or cancellation)
	Queried int

	// Returned is the number of studies the registry returned before reconciliation
	Returned int

	// Matched is the number of studies emitted
	Matched int

	Misses       []Miss
	Duplicates   []string
	FailedChunks []*ChunkError
}

// Unmatched returns the number of requested identifiers no emitted study
// accounts for. Identifiers of failed chunks count as unmatched.
func (r Report) Unmatched() int {
	if n := r.Requested - r.Matched; n > 0 {
		return n
	}
	return 0
}

// Result holds the reconciled studies in input chunk order and the report.
type Result struct {
	Studies []client.Study
	Report  Report
}
