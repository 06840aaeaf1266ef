// Package metalgrep is the public facade for the GPU-accelerated
// exact-substring search engine described by the spec this module
// implements: zero-copy mmap'd text, a persistent GPU resource set, a
// capacity-bounded pattern cache, and a single compute dispatch per
// search call.
package metalgrep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantasys/metalgrep/internal/engineconfig"
	"github.com/vantasys/metalgrep/pkg/metalgrep/filemap"
	"github.com/vantasys/metalgrep/pkg/metalgrep/gpudevice"
	"github.com/vantasys/metalgrep/pkg/metalgrep/patterncache"
)

const instrumentationName = "github.com/vantasys/metalgrep"

// SearchResult is the immutable outcome of one search call. See spec §3
// for the field invariants; TraceID is additive (the hex trace ID of the
// search span; all zeros when no tracer provider is configured).
type SearchResult struct {
	MatchCount      uint32
	Positions       []uint32
	ExecutionTime   time.Duration
	ThroughputMBps  float64
	Truncated       bool
	TraceID         string
}

// Options configures SearchEngine construction. All fields are optional;
// zero values are first filled from the engineconfig overlay (when
// constructed through NewFromConfigFile) and otherwise take the spec's
// documented defaults.
type Options struct {
	CapacityHint     *uint32
	PatternCacheSize int
	FileSizeCap      int64
	ArchiveDir       string
	Log              logr.Logger
	TracerProvider   trace.TracerProvider
	MeterProvider    metric.MeterProvider

	// Config, when set, supplies the benchmark/profile iteration caps
	// (see engineconfig.Config). NewFromConfigFile populates this from a
	// YAML overlay; callers may also set it directly.
	Config *engineconfig.Config
}

// SearchEngine composes ResourceManager, FileMapper, PatternCache, and
// Dispatcher behind the library contract of spec §6.
type SearchEngine struct {
	id   uuid.UUID
	rm   *gpudevice.ResourceManager
	disp *gpudevice.Dispatcher
	fm   *filemap.FileMapper
	pc   *patterncache.Cache
	log  logr.Logger
	cfg  *engineconfig.Config

	tracer           trace.Tracer
	searchCounter    metric.Int64Counter
	matchCounter     metric.Int64Counter
	truncatedCounter metric.Int64Counter
	dispatchHist     metric.Float64Histogram
}

// New constructs a SearchEngine with a bare capacity hint, matching the
// minimal spec §6 constructor signature.
func New(capacityHint *uint32) (*SearchEngine, error) {
	return NewWithOptions(Options{CapacityHint: capacityHint})
}

// NewFromConfigFile loads an engineconfig overlay (see internal/engineconfig)
// and constructs a SearchEngine from it, letting explicit fields in opts
// (if any) still win over the file.
func NewFromConfigFile(path string, opts Options) (*SearchEngine, error) {
	cfg, err := engineconfig.Load(path)
	if err != nil {
		return nil, newErr(KindEnvironment, ErrStatError, err.Error())
	}

	if opts.CapacityHint == nil && cfg.Capacity != nil {
		opts.CapacityHint = cfg.Capacity
	}
	if opts.PatternCacheSize == 0 && cfg.PatternCacheSize != nil {
		opts.PatternCacheSize = *cfg.PatternCacheSize
	}
	if opts.FileSizeCap == 0 && cfg.FileSizeCapBytes != nil {
		opts.FileSizeCap = *cfg.FileSizeCapBytes
	}
	opts.Config = cfg

	return NewWithOptions(opts)
}

// NewWithOptions is the fully-configurable constructor.
func NewWithOptions(opts Options) (*SearchEngine, error) {
	rm, err := gpudevice.New(gpudevice.Options{
		CapacityHint: opts.CapacityHint,
		ArchiveDir:   opts.ArchiveDir,
		Log:          opts.Log,
	})
	if err != nil {
		return nil, classifyDeviceErr(err)
	}

	fm := filemap.New(rm.Device(), opts.FileSizeCap)
	pc := patterncache.New(rm.Device(), opts.PatternCacheSize)

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	searchCounter, _ := meter.Int64Counter("metalgrep.searches")
	matchCounter, _ := meter.Int64Counter("metalgrep.matches")
	truncatedCounter, _ := meter.Int64Counter("metalgrep.truncated_searches")
	dispatchHist, _ := meter.Float64Histogram("metalgrep.dispatch_seconds")

	return &SearchEngine{
		id:               uuid.New(),
		rm:               rm,
		disp:             gpudevice.NewDispatcher(rm),
		fm:               fm,
		pc:               pc,
		log:              opts.Log,
		cfg:              opts.Config,
		tracer:           tp.Tracer(instrumentationName),
		searchCounter:    searchCounter,
		matchCounter:     matchCounter,
		truncatedCounter: truncatedCounter,
		dispatchHist:     dispatchHist,
	}, nil
}

func classifyDeviceErr(err error) error {
	switch {
	case errors.Is(err, gpudevice.ErrNoDevice):
		return newErr(KindEnvironment, ErrNoDevice, err.Error())
	case errors.Is(err, gpudevice.ErrDeviceUnsupported):
		return newErr(KindEnvironment, ErrDeviceUnsupported, err.Error())
	case errors.Is(err, gpudevice.ErrQueueCreationFailed):
		return newErr(KindDevice, ErrQueueCreationFailed, err.Error())
	case errors.Is(err, gpudevice.ErrShaderNotFound):
		return newErr(KindEnvironment, ErrShaderNotFound, err.Error())
	case errors.Is(err, gpudevice.ErrPipelineCreationFailed):
		return newErr(KindDevice, ErrPipelineCreationFailed, err.Error())
	case errors.Is(err, gpudevice.ErrBufferAllocationFailed):
		return newErr(KindDevice, ErrBufferAllocationFailed, err.Error())
	default:
		return newErr(KindDevice, ErrPipelineCreationFailed, err.Error())
	}
}

// Map delegates to FileMapper, translating its errors into the boundary
// Kind taxonomy.
func (e *SearchEngine) Map(path string) error {
	if err := e.fm.Map(path); err != nil {
		return classifyMapErr(err)
	}
	return nil
}

func classifyMapErr(err error) error {
	switch {
	case errors.Is(err, filemap.ErrFileNotFound):
		return newErr(KindEnvironment, ErrFileNotFound, err.Error())
	case errors.Is(err, filemap.ErrNotReadable):
		return newErr(KindEnvironment, ErrNotReadable, err.Error())
	case errors.Is(err, filemap.ErrIsDirectory):
		return newErr(KindEnvironment, ErrIsDirectory, err.Error())
	case errors.Is(err, filemap.ErrTooLarge):
		return newErr(KindEnvironment, ErrTooLarge, err.Error())
	case errors.Is(err, filemap.ErrStatFailed):
		return newErr(KindEnvironment, ErrStatError, err.Error())
	case errors.Is(err, filemap.ErrMapFailed):
		return newErr(KindEnvironment, ErrMapError, err.Error())
	case errors.Is(err, filemap.ErrInvalidSize):
		return newErr(KindEnvironment, ErrInvalidSize, err.Error())
	default:
		return newErr(KindEnvironment, ErrMapError, err.Error())
	}
}

// Unmap releases the current mapping; idempotent.
func (e *SearchEngine) Unmap() error {
	if err := e.fm.Unmap(); err != nil {
		return newErr(KindEnvironment, ErrMapError, err.Error())
	}
	return nil
}

// Search validates inputs, dispatches one search, and returns the result.
func (e *SearchEngine) Search(ctx context.Context, pattern []byte) (SearchResult, error) {
	ctx, span := e.tracer.Start(ctx, "metalgrep.search",
		trace.WithAttributes(
			attribute.Int("pattern.length", len(pattern)),
			attribute.String("engine.id", e.id.String()),
		),
	)
	defer span.End()

	if !e.fm.Mapped() {
		return SearchResult{}, newErr(KindValidation, ErrNoFileMapped, "")
	}
	if len(pattern) == 0 {
		return SearchResult{}, newErr(KindValidation, ErrEmptyPattern, "")
	}

	if e.fm.Empty() {
		return SearchResult{TraceID: span.SpanContext().TraceID().String()}, nil
	}

	if int64(len(pattern)) > e.fm.Size() {
		return SearchResult{}, newErr(KindValidation, ErrPatternTooLong,
			fmt.Sprintf("pattern=%d text=%d", len(pattern), e.fm.Size()))
	}

	textBuf, err := e.fm.Buffer()
	if err != nil {
		return SearchResult{}, newErr(KindEnvironment, ErrMapError, err.Error())
	}

	patBuf, err := e.pc.GetOrCreate(pattern)
	if err != nil {
		return SearchResult{}, newErr(KindDevice, ErrBufferAllocationFailed, err.Error())
	}

	result, err := e.disp.Search(textBuf, patBuf, uint32(e.fm.Size()), uint32(len(pattern)))
	if err != nil {
		return SearchResult{}, newErr(KindDevice, ErrGPUExecutionFailed, err.Error())
	}

	throughput := 0.0
	if result.Elapsed > 0 && e.fm.Size() > 0 {
		throughput = float64(e.fm.Size()) / (result.Elapsed.Seconds() * 1024 * 1024)
	}

	e.searchCounter.Add(ctx, 1)
	e.matchCounter.Add(ctx, int64(result.MatchCount))
	if result.Truncated {
		e.truncatedCounter.Add(ctx, 1)
	}
	e.dispatchHist.Record(ctx, result.Elapsed.Seconds())

	return SearchResult{
		MatchCount:     result.MatchCount,
		Positions:      result.Positions,
		ExecutionTime:  result.Elapsed,
		ThroughputMBps: throughput,
		Truncated:      result.Truncated,
		TraceID:        span.SpanContext().TraceID().String(),
	}, nil
}

// Warmup realizes the pipeline/buffers by touching each persistent
// buffer's first byte and performing a cheap one-byte search against
// whatever is currently mapped, if anything. It never alters
// caller-observable engine state beyond warming caches.
func (e *SearchEngine) Warmup(ctx context.Context) error {
	e.rm.MatchCountBuffer().ReadByteAt(0)
	if e.rm.Capacity() > 0 {
		e.rm.PositionsBuffer().ReadByteAt(0)
	}

	if e.fm.Mapped() && !e.fm.Empty() {
		_, err := e.Search(ctx, []byte{0})
		if err != nil {
			// A warmup probe finding 0 matches for an arbitrary byte is
			// normal; only a device-kind error is worth surfacing.
			var mgErr *Error
			if errors.As(err, &mgErr) && mgErr.Kind == KindDevice {
				return err
			}
		}
	}
	return nil
}

// ClearPatternCache empties the pattern cache.
func (e *SearchEngine) ClearPatternCache() { e.pc.Clear() }

// WarmupPatternCache pre-populates the pattern cache, subject to the
// profiling iteration cap (profileMaxIterations, overridable via
// engineconfig's profile_max_iterations).
func (e *SearchEngine) WarmupPatternCache(patterns [][]byte) error {
	if max := e.profileMaxIterations(); len(patterns) > max {
		return newErr(KindValidation, ErrInvalidIterationCount,
			fmt.Sprintf("patterns=%d max=%d", len(patterns), max))
	}
	if err := e.pc.Warmup(patterns); err != nil {
		return newErr(KindDevice, ErrBufferAllocationFailed, err.Error())
	}
	return nil
}

// Close releases all device resources, unmapping first if still mapped.
func (e *SearchEngine) Close() error {
	_ = e.fm.Unmap()
	e.pc.Clear()
	e.rm.Release()
	return nil
}

// ID returns the engine's correlation UUID, attached as a trace attribute
// on every span this engine starts.
func (e *SearchEngine) ID() uuid.UUID { return e.id }
