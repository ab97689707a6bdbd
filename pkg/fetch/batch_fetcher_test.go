package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/clinical-trials-client/internal/testutil"
	"github.com/Sternrassler/clinical-trials-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearcher answers searches from an in-memory table. Every call returns
// fresh study maps so augmentation never leaks between tests.
type fakeSearcher struct {
	mu      sync.Mutex
	known   map[string]bool
	extras  map[string][]string
	fail    map[string]error
	reverse bool
	delay   time.Duration
	block   bool
	calls   [][]string
}

func newFakeSearcher(ids ...string) *fakeSearcher {
	s := &fakeSearcher{
		known:  make(map[string]bool),
		extras: make(map[string][]string),
		fail:   make(map[string]error),
	}
	for _, id := range ids {
		s.known[id] = true
	}
	return s
}

func (s *fakeSearcher) Search(ctx context.Context, ids []string) ([]client.Study, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), ids...))
	delay, block, reverse := s.delay, s.block, s.reverse
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []client.Study
	for _, id := range ids {
		if err, ok := s.fail[id]; ok {
			return nil, err
		}
		if s.known[id] {
			out = append(out, testutil.NewStudy(id, "Study "+id, nil))
		}
		for _, extra := range s.extras[id] {
			out = append(out, testutil.NewStudy(extra, "Extra "+extra, nil))
		}
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *fakeSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type limitedSearcher struct {
	*fakeSearcher
	limit int
}

func (s limitedSearcher) MaxResults() int { return s.limit }

func records(ids ...string) []IdentifierRecord {
	out := make([]IdentifierRecord, len(ids))
	for i, id := range ids {
		out[i] = IdentifierRecord{
			Identifier:    id,
			ApplicationID: "app-" + id,
			Project:       "proj-" + id,
		}
	}
	return out
}

func seqIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("NCT%08d", i+1)
	}
	return ids
}

func studyIDs(studies []client.Study) []string {
	ids := make([]string, len(studies))
	for i, s := range studies {
		ids[i], _ = client.StudyIdentifier(s)
	}
	return ids
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 10, []int{}},
		{"exact multiple", 20, 10, []int{10, 10}},
		{"remainder", 25, 10, []int{10, 10, 5}},
		{"smaller than size", 3, 10, []int{3}},
		{"size one", 3, 1, []int{1, 1, 1}},
		{"non-positive size treated as one", 2, 0, []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := records(seqIDs(tt.n)...)
			chunks := Partition(recs, tt.size)

			sizes := make([]int, len(chunks))
			var flat []IdentifierRecord
			for i, c := range chunks {
				sizes[i] = len(c)
				flat = append(flat, c...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if tt.n > 0 {
				assert.Equal(t, recs, flat, "concatenated chunks should reproduce input order")
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	p, err = ParsePolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Run("nil searcher", func(t *testing.T) {
		_, err := New(nil, DefaultConfig())
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		f, err := New(newFakeSearcher(), Config{})
		require.NoError(t, err)
		cfg := f.Config()
		assert.Equal(t, 10, cfg.BatchSize)
		assert.Equal(t, client.DefaultMaxResults, cfg.MaxResults)
		assert.Equal(t, 1, cfg.Concurrency)
		assert.Equal(t, 60*time.Second, cfg.Timeout)
		assert.Equal(t, PolicySkip, cfg.Policy)
	})

	t.Run("batch size above result cap", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BatchSize = 101
		_, err := New(newFakeSearcher(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max_results")
	})

	t.Run("result cap from searcher", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxResults = 0
		cfg.BatchSize = 6
		_, err := New(limitedSearcher{newFakeSearcher(), 5}, cfg)
		assert.Error(t, err)

		cfg.BatchSize = 5
		f, err := New(limitedSearcher{newFakeSearcher(), 5}, cfg)
		require.NoError(t, err)
		assert.Equal(t, 5, f.Config().MaxResults)
	})

	t.Run("unknown policy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Policy = "retry"
		_, err := New(newFakeSearcher(), cfg)
		assert.Error(t, err)
	})
}

func TestFetch_ReconcilesAndAugments(t *testing.T) {
	s := newFakeSearcher("A", "B", "C")
	s.reverse = true

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)

	// Chunk order is preserved; order within a chunk is the registry's.
	assert.Equal(t, []string{"B", "A", "C"}, studyIDs(result.Studies))
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, s.calls)

	for _, study := range result.Studies {
		id, _ := client.StudyIdentifier(study)
		assert.Equal(t, "app-"+id, study[KeyApplicationID])
		assert.Equal(t, "proj-"+id, study[KeyProject])
	}

	report := result.Report
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Queried)
	assert.Equal(t, 3, report.Returned)
	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 0, report.Unmatched())
	assert.Empty(t, report.Misses)
	assert.Empty(t, report.FailedChunks)
}

func TestFetch_ReconciliationMiss(t *testing.T) {
	s := newFakeSearcher("A", "B")
	s.extras["A"] = []string{"Z"}

	f, err := New(s, DefaultConfig())
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A", "B"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, studyIDs(result.Studies))
	assert.Equal(t, []Miss{{Chunk: 0, Identifier: "Z"}}, result.Report.Misses)
	assert.Equal(t, 3, result.Report.Returned)
}

func TestFetch_StudyWithoutIdentifierIsAMiss(t *testing.T) {
	s := &staticSearcher{studies: []client.Study{{"ProtocolSection": map[string]any{}}}}

	f, err := New(s, DefaultConfig())
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A"))
	require.NoError(t, err)
	assert.Empty(t, result.Studies)
	assert.Equal(t, []Miss{{Chunk: 0, Identifier: ""}}, result.Report.Misses)
	assert.Equal(t, 1, result.Report.Unmatched())
}

type staticSearcher struct {
	studies []client.Study
}

func (s *staticSearcher) Search(ctx context.Context, ids []string) ([]client.Study, error) {
	return s.studies, nil
}

func TestFetch_Duplicates(t *testing.T) {
	t.Run("within a chunk", func(t *testing.T) {
		s := newFakeSearcher("A")
		s.extras["A"] = []string{"A"}

		f, err := New(s, DefaultConfig())
		require.NoError(t, err)

		result, err := f.Fetch(context.Background(), records("A"))
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, studyIDs(result.Studies))
		assert.Equal(t, []string{"A"}, result.Report.Duplicates)
	})

	t.Run("across chunks", func(t *testing.T) {
		s := newFakeSearcher("A")

		cfg := DefaultConfig()
		cfg.BatchSize = 1
		f, err := New(s, cfg)
		require.NoError(t, err)

		result, err := f.Fetch(context.Background(), records("A", "A"))
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, studyIDs(result.Studies))
		assert.Equal(t, []string{"A"}, result.Report.Duplicates)
	})
}

func TestFetch_SkipPolicy(t *testing.T) {
	s := newFakeSearcher("A", "B", "C")
	s.fail["B"] = &client.RegistryError{
		StatusCode: http.StatusInternalServerError,
		ErrorClass: client.ErrorClassServer,
		Message:    "500 Internal Server Error",
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, studyIDs(result.Studies))
	require.Len(t, result.Report.FailedChunks, 1)

	chunkErr := result.Report.FailedChunks[0]
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, []string{"B"}, chunkErr.Identifiers)
	assert.Equal(t, http.StatusInternalServerError, chunkErr.StatusCode)
	assert.ErrorIs(t, chunkErr, ErrRemoteQueryFailed)
	assert.Equal(t, 3, s.callCount())
	assert.Equal(t, 1, result.Report.Unmatched())
}

func TestFetch_AbortPolicy(t *testing.T) {
	s := newFakeSearcher("A", "B", "C")
	s.fail["B"] = errors.New("connection reset")

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.Policy = PolicyAbort
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A", "B", "C"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteQueryFailed)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, 0, chunkErr.StatusCode)

	require.NotNil(t, result)
	assert.Equal(t, []string{"A"}, studyIDs(result.Studies))
	assert.Equal(t, 2, s.callCount(), "no chunk after the failure should be queried")
	assert.Equal(t, 2, result.Report.Queried)
}

func TestFetch_Concurrent(t *testing.T) {
	ids := seqIDs(40)
	s := newFakeSearcher(ids...)
	s.delay = 2 * time.Millisecond

	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.Concurrency = 4
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records(ids...))
	require.NoError(t, err)

	assert.Equal(t, ids, studyIDs(result.Studies), "emission order must follow input order")
	assert.Equal(t, 14, s.callCount())
	assert.Equal(t, 14, result.Report.Queried)
}

func TestFetch_ConcurrentAbortReportsLowestChunk(t *testing.T) {
	ids := seqIDs(12)
	s := newFakeSearcher(ids...)
	s.fail[ids[5]] = errors.New("boom")
	s.fail[ids[9]] = errors.New("boom")

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Concurrency = 3
	cfg.Policy = PolicyAbort
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records(ids...))
	require.Error(t, err)

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.LessOrEqual(t, chunkErr.Index, 4)

	got := studyIDs(result.Studies)
	assert.Equal(t, ids[:len(got)], got, "studies must be a prefix of the input")
	assert.LessOrEqual(t, len(got), 4)
}

func TestFetch_ChunkTimeout(t *testing.T) {
	s := newFakeSearcher("A")
	s.block = true

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("A"))
	require.NoError(t, err)
	require.Len(t, result.Report.FailedChunks, 1)
	assert.ErrorIs(t, result.Report.FailedChunks[0], context.DeadlineExceeded)
}

func TestFetch_Cancelled(t *testing.T) {
	s := newFakeSearcher("A", "B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := New(s, DefaultConfig())
	require.NoError(t, err)

	result, err := f.Fetch(ctx, records("A", "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRemoteQueryFailed)
	assert.Empty(t, result.Studies)
	assert.Equal(t, 0, s.callCount())
}

func TestFetch_Empty(t *testing.T) {
	s := newFakeSearcher()
	f, err := New(s, DefaultConfig())
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Studies)
	assert.Equal(t, 0, result.Report.Chunks)
	assert.Equal(t, 0, s.callCount())
}

func TestFetch_WithRegistryClient(t *testing.T) {
	mock := testutil.NewMockRegistry()
	defer mock.Close()

	mock.AddStudy("NCT00000001", testutil.NewStudy("NCT00000001", "First", nil))
	mock.AddStudy("NCT00000002", testutil.NewStudy("NCT00000002", "Second", nil))
	mock.AddExtra("NCT00000002", testutil.NewStudy("NCT99999999", "Unrelated", nil))
	mock.FailFor("NCT00000003", testutil.NewServerErrorResponse())

	cfg := client.DefaultConfig("ctgov-test/1.0 (test@example.com)")
	cfg.BaseURL = mock.SearchURL()
	c, err := client.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	fcfg := DefaultConfig()
	fcfg.MaxResults = 0
	fcfg.BatchSize = 2
	f, err := New(c, fcfg)
	require.NoError(t, err)
	assert.Equal(t, client.DefaultMaxResults, f.Config().MaxResults)

	result, err := f.Fetch(context.Background(), records("NCT00000001", "NCT00000002", "NCT00000003"))
	require.NoError(t, err)

	assert.Equal(t, []string{"NCT00000001", "NCT00000002"}, studyIDs(result.Studies))
	assert.Equal(t, []Miss{{Chunk: 0, Identifier: "NCT99999999"}}, result.Report.Misses)
	require.Len(t, result.Report.FailedChunks, 1)
	assert.Equal(t, http.StatusInternalServerError, result.Report.FailedChunks[0].StatusCode)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"NCT00000001", "NCT00000002"}, reqs[0].Identifiers)
	assert.Equal(t, client.DefaultMaxResults, reqs[0].MaxResults)
}

func TestFetch_SingleIdentifierChunksDropUnrequested(t *testing.T) {
	s := newFakeSearcher("NCT1", "NCT2")
	s.extras["NCT1"] = []string{"NCT3"}

	cfg := DefaultConfig()
	cfg.BatchSize = 1
	f, err := New(s, cfg)
	require.NoError(t, err)

	result, err := f.Fetch(context.Background(), records("NCT1", "NCT2"))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"NCT1"}, {"NCT2"}}, s.calls)
	assert.Equal(t, []string{"NCT1", "NCT2"}, studyIDs(result.Studies))
	assert.Equal(t, "app-NCT1", result.Studies[0][KeyApplicationID])
	assert.Equal(t, []Miss{{Chunk: 0, Identifier: "NCT3"}}, result.Report.Misses)
	assert.LessOrEqual(t, len(result.Studies), result.Report.Requested)
}
