package metalgrep

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Iteration bounds per spec §6: 10,000 for benchmark(), 1,000 for
// profile-style per-pattern warmups. Either may be lowered by an
// engineconfig overlay; see SearchEngine.benchmarkMaxIterations /
// profileMaxIterations.
const (
	MaxBenchmarkIterations = 10_000
	MaxProfileIterations   = 1_000
)

// BenchmarkResult aggregates repeated Search calls against one
// (file, pattern) pair, per spec §4.7: mean, min, max, standard deviation,
// and p50/p95/p99 for both the execution-time series and the throughput
// series. RunID/Consistent/TruncatedCount are additive fields beyond the
// base spec.
type BenchmarkResult struct {
	Pattern    []byte
	FileSize   int64
	Iterations []SearchResult

	AvgTime    time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration
	StdDevTime time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration

	AvgThroughput      float64
	MinThroughput      float64
	MaxThroughput      float64
	StdDevThroughput   float64
	ThroughputP50      float64
	ThroughputP95      float64
	ThroughputP99      float64

	RunID          uuid.UUID
	Consistent     bool
	TruncatedCount int
}

// Benchmark runs iterations back-to-back searches for pattern against the
// currently mapped file, optionally discarding the first call as a warmup
// (warmupFlag), and returns aggregate timing and throughput statistics.
//
// Validation order matches Search: a closed/empty engine state surfaces the
// same Kind-tagged errors Search would on its first call.
func (e *SearchEngine) Benchmark(ctx context.Context, pattern []byte, iterations int, warmupFlag bool) (BenchmarkResult, error) {
	maxIterations := e.benchmarkMaxIterations()
	if iterations <= 0 || iterations > maxIterations {
		return BenchmarkResult{}, newErr(KindValidation, ErrInvalidIterationCount,
			fmt.Sprintf("iterations=%d max=%d", iterations, maxIterations))
	}

	if warmupFlag {
		if _, err := e.Search(ctx, pattern); err != nil {
			return BenchmarkResult{}, err
		}
	}

	results := make([]SearchResult, 0, iterations)
	var timeStats, throughputStats welfordAccumulator
	var truncatedCount int
	firstMatch := uint32(0)
	consistent := true

	for i := 0; i < iterations; i++ {
		res, err := e.Search(ctx, pattern)
		if err != nil {
			return BenchmarkResult{}, err
		}
		if i == 0 {
			firstMatch = res.MatchCount
		} else if res.MatchCount != firstMatch {
			consistent = false
		}
		if res.Truncated {
			truncatedCount++
		}
		timeStats.add(res.ExecutionTime.Seconds())
		throughputStats.add(res.ThroughputMBps)
		results = append(results, res)
	}

	sortedTimes := make([]float64, len(results))
	sortedThroughput := make([]float64, len(results))
	for i, r := range results {
		sortedTimes[i] = r.ExecutionTime.Seconds()
		sortedThroughput[i] = r.ThroughputMBps
	}
	sort.Float64s(sortedTimes)
	sort.Float64s(sortedThroughput)

	return BenchmarkResult{
		Pattern:    append([]byte(nil), pattern...),
		FileSize:   e.fm.Size(),
		Iterations: results,

		AvgTime:    secondsToDuration(timeStats.mean),
		MinTime:    secondsToDuration(sortedTimes[0]),
		MaxTime:    secondsToDuration(sortedTimes[len(sortedTimes)-1]),
		StdDevTime: secondsToDuration(timeStats.stddev()),
		P50:        secondsToDuration(percentile(sortedTimes, 0.50)),
		P95:        secondsToDuration(percentile(sortedTimes, 0.95)),
		P99:        secondsToDuration(percentile(sortedTimes, 0.99)),

		AvgThroughput:    throughputStats.mean,
		MinThroughput:    sortedThroughput[0],
		MaxThroughput:    sortedThroughput[len(sortedThroughput)-1],
		StdDevThroughput: throughputStats.stddev(),
		ThroughputP50:    percentile(sortedThroughput, 0.50),
		ThroughputP95:    percentile(sortedThroughput, 0.95),
		ThroughputP99:    percentile(sortedThroughput, 0.99),

		RunID:          uuid.New(),
		Consistent:     consistent,
		TruncatedCount: truncatedCount,
	}, nil
}

// benchmarkMaxIterations returns the engineconfig-overridden benchmark
// iteration cap, falling back to MaxBenchmarkIterations when unset.
func (e *SearchEngine) benchmarkMaxIterations() int {
	if e.cfg != nil && e.cfg.BenchmarkMaxIterations != nil {
		return *e.cfg.BenchmarkMaxIterations
	}
	return MaxBenchmarkIterations
}

// profileMaxIterations returns the engineconfig-overridden profiling
// (per-pattern warmup) iteration cap, falling back to MaxProfileIterations
// when unset. WarmupPatternCache enforces this against the number of
// patterns it is asked to pre-populate.
func (e *SearchEngine) profileMaxIterations() int {
	if e.cfg != nil && e.cfg.ProfileMaxIterations != nil {
		return *e.cfg.ProfileMaxIterations
	}
	return MaxProfileIterations
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Summary renders a short human-readable line, matching the teacher's use
// of go-humanize for byte counts in operator-facing output.
func (r BenchmarkResult) Summary() string {
	return fmt.Sprintf(
		"pattern=%q file=%s avg=%s min=%s max=%s p50=%s p95=%s p99=%s "+
			"throughput(avg=%.2f min=%.2f max=%.2f p50=%.2f p95=%.2f p99=%.2f MB/s) "+
			"consistent=%t truncated=%d/%d",
		r.Pattern,
		humanize.Bytes(uint64(r.FileSize)),
		r.AvgTime,
		r.MinTime,
		r.MaxTime,
		r.P50,
		r.P95,
		r.P99,
		r.AvgThroughput,
		r.MinThroughput,
		r.MaxThroughput,
		r.ThroughputP50,
		r.ThroughputP95,
		r.ThroughputP99,
		r.Consistent,
		r.TruncatedCount,
		len(r.Iterations),
	)
}

// percentile returns the linearly-interpolated p-th percentile of a slice
// already sorted ascending. p is in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// welfordAccumulator computes a numerically stable running mean and
// variance in one pass (Welford's online algorithm), avoiding the
// catastrophic cancellation of the naive sum-of-squares formula across
// thousands of benchmark iterations.
type welfordAccumulator struct {
	count int
	mean  float64
	m2    float64
}

func (w *welfordAccumulator) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welfordAccumulator) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

func (w *welfordAccumulator) stddev() float64 {
	return math.Sqrt(w.variance())
}
