package gpudevice

import "time"

// DispatchResult is the raw outcome of one dispatch, before the facade
// layer wraps it into a SearchResult.
type DispatchResult struct {
	MatchCount uint32
	Positions  []uint32
	Truncated  bool
	Elapsed    time.Duration
}

// Dispatcher drives a single search dispatch against a ResourceManager's
// persistent buffers and a given text/pattern buffer pair, per spec §4.5.
type Dispatcher struct {
	rm *ResourceManager
}

// NewDispatcher binds a Dispatcher to the ResourceManager whose persistent
// buffers it will reuse across every call.
func NewDispatcher(rm *ResourceManager) *Dispatcher {
	return &Dispatcher{rm: rm}
}

// Search runs one dispatch. textLen/patternLen must already satisfy
// 0 < patternLen <= textLen <= len(textBuf's backing data) — callers
// (the SearchEngine facade) are responsible for the validation spec §4.5
// step 1 describes; Dispatcher assumes it here and only handles the
// zero-threads short circuit of step 3.
func (d *Dispatcher) Search(text, pattern Buffer, textLen, patternLen uint32) (DispatchResult, error) {
	start := time.Now()

	threads := int(textLen) - int(patternLen) + 1
	if threads <= 0 {
		return DispatchResult{Elapsed: time.Since(start)}, nil
	}

	caps := d.rm.Device().Capabilities()
	plan := planDispatch(threads, caps.ThreadExecutionWidth, caps.MaxTotalThreadsPerGroup)

	d.rm.ResetMatchCount()

	capacity := d.rm.Capacity()
	if err := d.rm.Device().Dispatch(
		plan,
		text, pattern,
		patternLen, textLen,
		d.rm.MatchCountBuffer(), d.rm.PositionsBuffer(),
		capacity,
	); err != nil {
		return DispatchResult{}, err
	}

	counts := d.rm.MatchCountBuffer().ReadUint32(1)
	matchCount := counts[0]

	stored := matchCount
	if stored > capacity {
		stored = capacity
	}

	var positions []uint32
	if stored > 0 {
		positions = d.rm.PositionsBuffer().ReadUint32(int(stored))
	}

	return DispatchResult{
		MatchCount: matchCount,
		Positions:  positions,
		Truncated:  matchCount > capacity,
		Elapsed:    time.Since(start),
	}, nil
}
