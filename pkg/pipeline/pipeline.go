// Package pipeline drives a full export run: batch fetch, flatten every
// reconciled study, and collect the tabular schema.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/Sternrassler/clinical-trials-client/pkg/fetch"
	"github.com/Sternrassler/clinical-trials-client/pkg/flatten"
	"github.com/Sternrassler/clinical-trials-client/pkg/logging"
	"github.com/Sternrassler/clinical-trials-client/pkg/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pipeline runs.
var (
	recordsFlattenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctgov_records_flattened_total",
		Help: "Studies flattened into tabular records",
	})

	recordsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctgov_records_skipped_total",
		Help: "Studies skipped during flattening by reason",
	}, []string{"reason"})

	schemaColumns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctgov_schema_columns",
		Help: "Number of columns in the schema of the last run",
	})
)

// Fetcher is the batch fetch stage. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, records []fetch.IdentifierRecord) (*fetch.Result, error)
}

// SkippedRecord is a fetched study that could not be flattened.
type SkippedRecord struct {
	Identifier string
	Err        error
}

// Report extends the fetch report with flattening outcomes.
type Report struct {
	fetch.Report

	Flattened int
	Skipped   []SkippedRecord
}

// Summary holds the completion counts of a run.
type Summary struct {
	Requested    int
	Fetched      int
	Flattened    int
	Unmatched    int
	Misses       int
	Duplicates   int
	FailedChunks int
	Skipped      int
}

// Summary returns the completion counts.
func (r Report) Summary() Summary {
	return Summary{
		Requested:    r.Requested,
		Fetched:      r.Matched,
		Flattened:    r.Flattened,
		Unmatched:    r.Unmatched(),
		Misses:       len(r.Misses),
		Duplicates:   len(r.Duplicates),
		FailedChunks: len(r.FailedChunks),
		Skipped:      len(r.Skipped),
	}
}

// Result is the output of a run. Records[i] is the flattened form of the
// i-th study that flattened successfully; Schema covers every key of Records.
type Result struct {
	RunID   string
	Studies []client.Study
	Records []flatten.Record
	Schema  []string
	Report  Report
}

// Pipeline wires a fetcher to a flattener.
type Pipeline struct {
	fetcher   Fetcher
	flattener *flatten.Flattener
	logger    zerolog.Logger
}

// New creates a pipeline.
func New(fetcher Fetcher, opts flatten.Options) (*Pipeline, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	return &Pipeline{
		fetcher:   fetcher,
		flattener: flatten.New(opts),
		logger:    logging.NewLogger("pipeline"),
	}, nil
}

// Run fetches, flattens and collects the schema for records.
//
// A fetch error (abort policy or cancellation) ends the run: the returned
// Result then holds whatever was flattened from the studies fetched before
// the error, and the error is returned alongside it. Studies that exceed the
// flattener's depth ceiling or build colliding paths are skipped and
// reported, never fatal.
func (p *Pipeline) Run(ctx context.Context, records []fetch.IdentifierRecord) (*Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()
	start := time.Now()

	logger.Info().Int("identifiers", len(records)).Msg("Starting export run")

	fetched, fetchErr := p.fetcher.Fetch(ctx, records)
	if fetched == nil {
		if fetchErr == nil {
			fetchErr = errors.New("fetcher returned no result")
		}
		return nil, fmt.Errorf("fetch: %w", fetchErr)
	}

	result := &Result{
		RunID:   runID,
		Studies: make([]client.Study, 0, len(fetched.Studies)),
		Records: make([]flatten.Record, 0, len(fetched.Studies)),
		Report:  Report{Report: fetched.Report},
	}

	for _, study := range fetched.Studies {
		id, _ := client.StudyIdentifier(study)

		rec, err := p.flattener.Flatten(study)
		if err != nil {
			reason := "error"
			switch {
			case errors.Is(err, flatten.ErrStructureTooDeep):
				reason = "too_deep"
			case errors.Is(err, flatten.ErrPathCollision):
				reason = "path_collision"
			}
			recordsSkippedTotal.WithLabelValues(reason).Inc()
			result.Report.Skipped = append(result.Report.Skipped, SkippedRecord{Identifier: id, Err: err})

			logger.Warn().
				Err(err).
				Str("identifier", id).
				Msg("Skipping study that could not be flattened")
			continue
		}

		result.Studies = append(result.Studies, study)
		result.Records = append(result.Records, rec)
	}

	result.Report.Flattened = len(result.Records)
	result.Schema = schema.Collect(result.Records)

	recordsFlattenedTotal.Add(float64(len(result.Records)))
	schemaColumns.Set(float64(len(result.Schema)))

	sum := result.Report.Summary()
	event := logger.Info()
	if fetchErr != nil {
		event = logger.Error().Err(fetchErr)
	}
	event.
		Int("requested", sum.Requested).
		Int("fetched", sum.Fetched).
		Int("flattened", sum.Flattened).
		Int("unmatched", sum.Unmatched).
		Int("misses", sum.Misses).
		Int("duplicates", sum.Duplicates).
		Int("failed_chunks", sum.FailedChunks).
		Int("skipped", sum.Skipped).
		Int("columns", len(result.Schema)).
		Dur("duration", time.Since(start)).
		Msg("Export run complete")

	if fetchErr != nil {
		return result, fmt.Errorf("fetch: %w", fetchErr)
	}
	return result, nil
}
