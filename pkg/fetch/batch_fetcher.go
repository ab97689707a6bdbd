package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/Sternrassler/clinical-trials-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for batch fetching.
var (
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctgov_chunks_total",
		Help: "Total identifier chunks queried by outcome",
	}, []string{"outcome"})

	reconciliationMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctgov_reconciliation_misses_total",
		Help: "Studies returned by the registry that matched no requested identifier",
	})

	studiesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctgov_studies_fetched_total",
		Help: "Studies reconciled and emitted by the batch fetcher",
	})
)

// Keys added to every emitted study from its identifier record.
const (
	KeyApplicationID = "application_id"
	KeyProject       = "project"
)

// IdentifierRecord names one study to fetch and the local metadata to attach.
type IdentifierRecord struct {
	Identifier    string
	ApplicationID string
	Project       string
}

// Searcher is the remote lookup the fetcher drives. *client.Client implements it.
type Searcher interface {
	// Search returns the studies matching any of ids.
	Search(ctx context.Context, ids []string) ([]client.Study, error)
}

// ResultLimiter is optionally implemented by a Searcher to report its
// per-query result cap.
type ResultLimiter interface {
	MaxResults() int
}

// Policy decides what a failed chunk does to the rest of the fetch.
type Policy string

const (
	// PolicySkip records the failed chunk and continues with the next.
	PolicySkip Policy = "skip"

	// PolicyAbort stops at the first failed chunk.
	PolicyAbort Policy = "abort"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicySkip, PolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %q or %q)", s, PolicySkip, PolicyAbort)
	}
}

// Config holds batch fetcher configuration.
type Config struct {
	// BatchSize is the number of identifiers per query
	BatchSize int

	// MaxResults is the per-query result cap; BatchSize may not exceed it.
	// Zero takes the cap from the Searcher if it implements ResultLimiter.
	MaxResults int

	// Concurrency is the number of chunks in flight (1 = sequential)
	Concurrency int

	// Timeout per chunk query
	Timeout time.Duration

	// Policy for failed chunks
	Policy Policy
}

// DefaultConfig returns the default sequential configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   10,
		MaxResults:  client.DefaultMaxResults,
		Concurrency: 1,
		Timeout:     60 * time.Second,
		Policy:      PolicySkip,
	}
}

// Fetcher queries the registry chunk by chunk and reconciles the results
// with the requested identifier records.
type Fetcher struct {
	searcher Searcher
	config   Config
	logger   zerolog.Logger
}

// New creates a new batch fetcher.
func New(searcher Searcher, config Config) (*Fetcher, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxResults <= 0 {
		config.MaxResults = client.DefaultMaxResults
		if lim, ok := searcher.(ResultLimiter); ok {
			config.MaxResults = lim.MaxResults()
		}
	}
	if config.BatchSize > config.MaxResults {
		return nil, fmt.Errorf("batch_size %d exceeds max_results %d; results would be truncated", config.BatchSize, config.MaxResults)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Policy == "" {
		config.Policy = PolicySkip
	}
	if _, err := ParsePolicy(string(config.Policy)); err != nil {
		return nil, err
	}

	return &Fetcher{
		searcher: searcher,
		config:   config,
		logger:   logging.NewLogger("batch-fetcher"),
	}, nil
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.config
}

// Partition splits records into contiguous chunks of at most size records.
// The last chunk may be smaller; order is preserved.
func Partition(records []IdentifierRecord, size int) [][]IdentifierRecord {
	if size < 1 {
		size = 1
	}
	chunks := make([][]IdentifierRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// chunkOutcome is the reconciled result of one chunk query.
type chunkOutcome struct {
	done       bool
	studies    []client.Study
	returned   int
	misses     []Miss
	duplicates []string
	err        *ChunkError
}

// Fetch queries every chunk of records and returns the reconciled studies in
// chunk order. Under PolicyAbort the first *ChunkError is returned together
// with the studies of the chunks before it. Context cancellation stops the
// fetch and returns the context error with the studies gathered so far.
func (f *Fetcher) Fetch(ctx context.Context, records []IdentifierRecord) (*Result, error) {
	start := time.Now()
	chunks := Partition(records, f.config.BatchSize)
	outcomes := make([]chunkOutcome, len(chunks))

	f.logger.Info().
		Int("identifiers", len(records)).
		Int("chunks", len(chunks)).
		Int("batch_size", f.config.BatchSize).
		Int("concurrency", f.config.Concurrency).
		Msg("Starting batch fetch")

	var runErr error
	if f.config.Concurrency == 1 || len(chunks) <= 1 {
		runErr = f.fetchSequential(ctx, chunks, outcomes)
	} else {
		runErr = f.fetchParallel(ctx, chunks, outcomes)
	}

	result := f.merge(outcomes, len(records))

	if runErr != nil {
		var chunkErr *ChunkError
		if errors.As(runErr, &chunkErr) {
			f.logger.Error().
				Err(chunkErr.Err).
				Int("chunk", chunkErr.Index).
				Strs("identifiers", chunkErr.Identifiers).
				Int("status", chunkErr.StatusCode).
				Msg("Batch fetch aborted")
		}
		return result, runErr
	}

	f.logger.Info().
		Int("chunks", result.Report.Chunks).
		Int("failed_chunks", len(result.Report.FailedChunks)).
		Int("studies", len(result.Studies)).
		Int("misses", len(result.Report.Misses)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return result, nil
}

func (f *Fetcher) fetchSequential(ctx context.Context, chunks [][]IdentifierRecord, outcomes []chunkOutcome) error {
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fetch cancelled before chunk %d: %w", i, err)
		}
		outcomes[i] = f.fetchChunk(ctx, i, chunk)
		if !outcomes[i].done {
			return fmt.Errorf("fetch cancelled at chunk %d: %w", i, ctx.Err())
		}
		if outcomes[i].err != nil && f.config.Policy == PolicyAbort {
			return outcomes[i].err
		}
	}
	return nil
}

// fetchParallel runs chunks on a bounded errgroup. Each goroutine writes only
// its own outcomes slot, so merge restores input order.
func (f *Fetcher) fetchParallel(ctx context.Context, chunks [][]IdentifierRecord, outcomes []chunkOutcome) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = f.fetchChunk(gctx, i, chunk)
			if !outcomes[i].done {
				return gctx.Err()
			}
			if outcomes[i].err != nil && f.config.Policy == PolicyAbort {
				return outcomes[i].err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		return nil
	}

	// Report the lowest-indexed failure so aborts are deterministic.
	if f.config.Policy == PolicyAbort {
		for i := range outcomes {
			if outcomes[i].err != nil {
				return outcomes[i].err
			}
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fetch cancelled: %w", ctxErr)
	}
	return err
}

// fetchChunk queries one chunk and reconciles the returned studies against it.
func (f *Fetcher) fetchChunk(ctx context.Context, index int, chunk []IdentifierRecord) chunkOutcome {
	ids := make([]string, len(chunk))
	byID := make(map[string]IdentifierRecord, len(chunk))
	for i, rec := range chunk {
		ids[i] = rec.Identifier
		if _, ok := byID[rec.Identifier]; !ok {
			byID[rec.Identifier] = rec
		}
	}

	chunkCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	start := time.Now()
	studies, err := f.searcher.Search(chunkCtx, ids)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled from outside the chunk; not a chunk failure.
			return chunkOutcome{}
		}
		chunkErr := &ChunkError{
			Index:       index,
			Identifiers: ids,
			Err:         err,
		}
		var regErr *client.RegistryError
		if errors.As(err, &regErr) {
			chunkErr.StatusCode = regErr.StatusCode
		}
		chunksTotal.WithLabelValues("failed").Inc()

		f.logger.Warn().
			Err(err).
			Int("chunk", index).
			Strs("identifiers", ids).
			Int("status", chunkErr.StatusCode).
			Str("policy", string(f.config.Policy)).
			Msg("Chunk query failed")

		return chunkOutcome{done: true, err: chunkErr}
	}

	out := chunkOutcome{
		done:     true,
		studies:  make([]client.Study, 0, len(studies)),
		returned: len(studies),
	}
	matched := make(map[string]bool, len(chunk))

	for _, study := range studies {
		id, _ := client.StudyIdentifier(study)
		rec, ok := byID[id]
		if !ok {
			out.misses = append(out.misses, Miss{Chunk: index, Identifier: id})
			reconciliationMissesTotal.Inc()
			f.logger.Warn().
				Int("chunk", index).
				Str("identifier", id).
				Msg("Reconciliation miss: study matches no requested identifier")
			continue
		}
		if matched[id] {
			out.duplicates = append(out.duplicates, id)
			f.logger.Warn().
				Int("chunk", index).
				Str("identifier", id).
				Msg("Duplicate study in chunk response dropped")
			continue
		}
		matched[id] = true

		study[KeyApplicationID] = rec.ApplicationID
		study[KeyProject] = rec.Project
		out.studies = append(out.studies, study)
	}

	chunksTotal.WithLabelValues("ok").Inc()
	f.logger.Debug().
		Int("chunk", index).
		Int("requested", len(ids)).
		Int("returned", len(studies)).
		Int("matched", len(out.studies)).
		Dur("duration", time.Since(start)).
		Msg("Chunk fetched")

	return out
}

// merge concatenates chunk outcomes in index order, stopping at the first
// chunk that never completed and, under PolicyAbort, after the first failed
// chunk. The result is therefore always a prefix of the input chunks.
func (f *Fetcher) merge(outcomes []chunkOutcome, requested int) *Result {
	result := &Result{
		Studies: make([]client.Study, 0),
		Report: Report{
			Requested: requested,
			Chunks:    len(outcomes),
		},
	}
	seen := make(map[string]bool)

	for _, o := range outcomes {
		if !o.done {
			break
		}
		result.Report.Queried++
		result.Report.Returned += o.returned
		result.Report.Misses = append(result.Report.Misses, o.misses...)
		result.Report.Duplicates = append(result.Report.Duplicates, o.duplicates...)

		if o.err != nil {
			result.Report.FailedChunks = append(result.Report.FailedChunks, o.err)
			if f.config.Policy == PolicyAbort {
				break
			}
			continue
		}

		for _, study := range o.studies {
			id, _ := client.StudyIdentifier(study)
			if seen[id] {
				result.Report.Duplicates = append(result.Report.Duplicates, id)
				f.logger.Warn().Str("identifier", id).Msg("Study already emitted by an earlier chunk; dropped")
				continue
			}
			seen[id] = true
			result.Studies = append(result.Studies, study)
		}
	}

	result.Report.Matched = len(result.Studies)
	studiesFetchedTotal.Add(float64(len(result.Studies)))

	return result
}
