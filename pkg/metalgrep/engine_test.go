package metalgrep

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantasys/metalgrep/internal/engineconfig"
	"github.com/vantasys/metalgrep/pkg/metalgrep/gpudevice"
)

func newTestEngine(t *testing.T) *SearchEngine {
	t.Helper()
	hint := uint32(1_000_000)
	engine, err := NewWithOptions(Options{CapacityHint: &hint, ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "text.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func sortedPositions(p []uint32) []uint32 {
	out := append([]uint32(nil), p...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// S1: overlapping matches.
func TestSearchOverlappingMatches(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("aaaa"))
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("aa"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), res.MatchCount)
	assert.Equal(t, []uint32{0, 1, 2}, sortedPositions(res.Positions))
	assert.False(t, res.Truncated)
}

// S2: repeated single-byte pattern across a larger alphabet.
func TestSearchRepeatedSingleByte(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abacadaba"))
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), res.MatchCount)
	assert.Equal(t, []uint32{0, 2, 4, 6, 8}, sortedPositions(res.Positions))
}

// S3: pattern not present.
func TestSearchNoMatches(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abcdef"))
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.MatchCount)
	assert.Empty(t, res.Positions)
}

// S4: pattern exactly the length of the text.
func TestSearchPatternEqualsTextLength(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("exact"))
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("exact"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.MatchCount)
	assert.Equal(t, []uint32{0}, res.Positions)
}

// S5: large file, two distinct needles, verifying independent dispatches.
func TestSearchLargeFileTwoNeedles(t *testing.T) {
	e := newTestEngine(t)

	filler := make([]byte, 100_000)
	for i := range filler {
		filler[i] = 'x'
	}
	needleA := []byte("findme")
	needleB := []byte("other")
	content := append(append(append([]byte{}, filler...), needleA...), make([]byte, 900_000-len(filler)-len(needleA))...)
	content = append(content, needleB...)

	path := writeTempFile(t, content)
	require.NoError(t, e.Map(path))

	resA, err := e.Search(context.Background(), needleA)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resA.MatchCount)
	assert.Equal(t, []uint32{uint32(len(filler))}, resA.Positions)

	resB, err := e.Search(context.Background(), needleB)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), resB.MatchCount)
	assert.Equal(t, []uint32{uint32(len(content) - len(needleB))}, resB.Positions)
}

// S6: truncation when matches exceed the configured capacity.
func TestSearchTruncatesAtCapacity(t *testing.T) {
	hint := uint32(gpudevice.MinCapacity)
	e, err := NewWithOptions(Options{CapacityHint: &hint, ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	content := make([]byte, hint+10)
	for i := range content {
		content[i] = 'a'
	}
	path := writeTempFile(t, content)
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, len(res.Positions), int(hint))
}

func TestSearchRejectsEmptyPattern(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abc"))
	require.NoError(t, e.Map(path))

	_, err := e.Search(context.Background(), nil)
	require.Error(t, err)
	var mgErr *Error
	require.ErrorAs(t, err, &mgErr)
	assert.Equal(t, KindValidation, mgErr.Kind)
	assert.ErrorIs(t, err, ErrEmptyPattern)
}

func TestSearchRejectsPatternLongerThanText(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("ab"))
	require.NoError(t, e.Map(path))

	_, err := e.Search(context.Background(), []byte("abcdef"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPatternTooLong)
}

func TestSearchRejectsWhenNoFileMapped(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Search(context.Background(), []byte("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFileMapped)
}

func TestSearchZeroLengthFileFastPath(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, nil)
	require.NoError(t, e.Map(path))

	res, err := e.Search(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), res.MatchCount)
	assert.NotEmpty(t, res.TraceID)
}

func TestMapMissingFileSurfacesEnvironmentError(t *testing.T) {
	e := newTestEngine(t)
	err := e.Map(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	var mgErr *Error
	require.ErrorAs(t, err, &mgErr)
	assert.Equal(t, KindEnvironment, mgErr.Kind)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestUnmapThenSearchRejectsNoFileMapped(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abc"))
	require.NoError(t, e.Map(path))
	require.NoError(t, e.Unmap())

	_, err := e.Search(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrNoFileMapped)
}

func TestWarmupAndPatternCacheLifecycle(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abacadaba"))
	require.NoError(t, e.Map(path))

	require.NoError(t, e.Warmup(context.Background()))
	require.NoError(t, e.WarmupPatternCache([][]byte{[]byte("a"), []byte("ab")}))
	e.ClearPatternCache()
}

func TestBenchmarkReportsConsistentResults(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abacadaba"))
	require.NoError(t, e.Map(path))

	result, err := e.Benchmark(context.Background(), []byte("a"), 5, true)
	require.NoError(t, err)
	assert.Len(t, result.Iterations, 5)
	assert.True(t, result.Consistent)
	assert.NotEmpty(t, result.Summary())
}

func TestBenchmarkRejectsInvalidIterationCount(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abc"))
	require.NoError(t, e.Map(path))

	_, err := e.Benchmark(context.Background(), []byte("a"), 0, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIterationCount)

	_, err = e.Benchmark(context.Background(), []byte("a"), MaxBenchmarkIterations+1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIterationCount)
}

// Confirms §4.7's full statistics contract: min/max and percentiles are
// populated for both the execution-time series and the throughput series,
// not just their means.
func TestBenchmarkReportsFullStatistics(t *testing.T) {
	e := newTestEngine(t)
	path := writeTempFile(t, []byte("abacadaba"))
	require.NoError(t, e.Map(path))

	result, err := e.Benchmark(context.Background(), []byte("a"), 20, true)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.MinTime, result.AvgTime)
	assert.GreaterOrEqual(t, result.MaxTime, result.AvgTime)
	assert.LessOrEqual(t, result.MinTime, result.P50)
	assert.GreaterOrEqual(t, result.MaxTime, result.P99)

	assert.LessOrEqual(t, result.MinThroughput, result.AvgThroughput)
	assert.GreaterOrEqual(t, result.MaxThroughput, result.AvgThroughput)
	assert.LessOrEqual(t, result.MinThroughput, result.ThroughputP50)
	assert.GreaterOrEqual(t, result.MaxThroughput, result.ThroughputP99)
	assert.GreaterOrEqual(t, result.StdDevThroughput, 0.0)
}

// An engineconfig overlay lowering benchmark_max_iterations must be
// enforced by Benchmark, not just parsed and ignored.
func TestBenchmarkHonorsConfigIterationCap(t *testing.T) {
	hint := uint32(1_000_000)
	maxIter := 3
	cfg := &engineconfig.Config{BenchmarkMaxIterations: &maxIter}
	e, err := NewWithOptions(Options{CapacityHint: &hint, ArchiveDir: t.TempDir(), Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	path := writeTempFile(t, []byte("abc"))
	require.NoError(t, e.Map(path))

	_, err = e.Benchmark(context.Background(), []byte("a"), maxIter+1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIterationCount)

	result, err := e.Benchmark(context.Background(), []byte("a"), maxIter, false)
	require.NoError(t, err)
	assert.Len(t, result.Iterations, maxIter)
}

// An engineconfig overlay lowering profile_max_iterations must be enforced
// by WarmupPatternCache, the operation that does per-pattern profiling.
func TestWarmupPatternCacheHonorsConfigIterationCap(t *testing.T) {
	hint := uint32(1_000_000)
	maxIter := 1
	cfg := &engineconfig.Config{ProfileMaxIterations: &maxIter}
	e, err := NewWithOptions(Options{CapacityHint: &hint, ArchiveDir: t.TempDir(), Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	err = e.WarmupPatternCache([][]byte{[]byte("a"), []byte("b")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIterationCount)

	require.NoError(t, e.WarmupPatternCache([][]byte{[]byte("a")}))
}

