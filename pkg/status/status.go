package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of an import run
type State int32

const (
	NeverRun State = iota
	Scanning
	Importing
	Paused
	Stopping
	Succeeded
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case NeverRun:
		return "Never run"
	case Scanning:
		return "Scanning"
	case Importing:
		return "Importing"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Source counter names
const (
	DirectoriesScanned   = "Directories scanned"
	FilesScanned         = "Files scanned"
	MetadataFilesScanned = "Metadata files scanned"
	UnreadableEntries    = "Unreadable entries"
	SupersededEntries    = "Superseded entries"
)

// Target counter names
const (
	BatchesCompleted           = "Batches completed"
	NodesImported              = "Nodes imported"
	NodesSkipped               = "Nodes skipped"
	BytesImported              = "Bytes imported"
	VersionsImported           = "Versions imported"
	MetadataPropertiesImported = "Metadata properties imported"
	AspectsAssociated          = "Aspects associated"
	InPlaceContentLinked       = "In-place content linked"
	ContentStreamed            = "Content streamed"
	OutOfOrderBatches          = "Out-of-order batches"
)

var defaultTargetCounters = []string{
	BatchesCompleted,
	NodesImported,
	NodesSkipped,
	BytesImported,
	VersionsImported,
	MetadataPropertiesImported,
	AspectsAssociated,
}

// PoolObserver exposes the worker pool figures used for diagnostics and ETA.
type PoolObserver interface {
	QueueSize() int
	QueueCapacity() int
	Active() int
	PoolSize() int
}

// Status is the shared, thread-safe progress record of one import run. It is
// created once and passed explicitly to every pipeline component.
type Status struct {
	state      atomic.Int32
	inProgress atomic.Bool
	stopping   atomic.Bool

	source atomic.Pointer[string]
	target atomic.Pointer[string]
	dryRun atomic.Bool

	startNanos atomic.Int64
	endNanos   atomic.Int64

	scanning  atomic.Pointer[string]
	importing atomic.Pointer[string]

	batchWeight atomic.Int64

	sourceCounters CounterSet
	targetCounters CounterSet

	pool atomic.Pointer[poolHolder]

	mu       sync.Mutex
	errors   []ErrorInfo
	resumeCh chan struct{}
}

type poolHolder struct {
	PoolObserver
}

// New creates a status in the NeverRun state
func New() *Status {
	return &Status{}
}

// ImportStarted moves the status into Scanning. It returns false if a run is
// already in progress.
func (s *Status) ImportStarted(source, target string, dryRun bool, batchWeight int) bool {
	if !s.inProgress.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	s.errors = nil
	s.resumeCh = nil
	s.mu.Unlock()

	s.stopping.Store(false)
	s.source.Store(&source)
	s.target.Store(&target)
	s.dryRun.Store(dryRun)
	s.batchWeight.Store(int64(batchWeight))
	s.scanning.Store(nil)
	s.importing.Store(nil)
	s.sourceCounters.reset(nil)
	s.targetCounters.reset(defaultTargetCounters)
	s.endNanos.Store(0)
	s.startNanos.Store(time.Now().UnixNano())
	s.state.Store(int32(Scanning))
	return true
}

// ScanningComplete marks the end of the scanning phase
func (s *Status) ScanningComplete() {
	s.state.CompareAndSwap(int32(Scanning), int32(Importing))
	s.scanning.Store(nil)
}

// Pause suspends workers at their next batch boundary
func (s *Status) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.InProgress() || s.stopping.Load() || s.resumeCh != nil {
		return
	}
	s.resumeCh = make(chan struct{})
	s.state.Store(int32(Paused))
}

// Resume releases paused workers
func (s *Status) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumeCh == nil {
		return
	}
	close(s.resumeCh)
	s.resumeCh = nil
	if s.scanning.Load() != nil {
		s.state.Store(int32(Scanning))
	} else {
		s.state.Store(int32(Importing))
	}
}

// WaitWhilePaused blocks until the run is resumed, stopped or ctx is done.
func (s *Status) WaitWhilePaused(ctx context.Context) error {
	s.mu.Lock()
	ch := s.resumeCh
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests cooperative cancellation
func (s *Status) Stop() {
	if !s.InProgress() {
		return
	}
	s.stopping.Store(true)
	s.state.Store(int32(Stopping))
	s.Resume()
	s.state.Store(int32(Stopping))
}

// ImportComplete settles the final state and freezes all counters.
func (s *Status) ImportComplete() {
	if !s.inProgress.Load() {
		return
	}

	switch {
	case s.stopping.Load():
		s.state.Store(int32(Stopped))
	case s.ErrorCount() > 0:
		s.state.Store(int32(Failed))
	default:
		s.state.Store(int32(Succeeded))
	}

	s.endNanos.Store(time.Now().UnixNano())
	s.scanning.Store(nil)
	s.importing.Store(nil)
	s.sourceCounters.FreezeAll()
	s.targetCounters.FreezeAll()
	s.inProgress.Store(false)
}

// State returns the current state
func (s *Status) State() State {
	return State(s.state.Load())
}

// InProgress reports whether a run is active
func (s *Status) InProgress() bool {
	return s.inProgress.Load()
}

// IsStopping reports whether cancellation was requested
func (s *Status) IsStopping() bool {
	return s.stopping.Load()
}

// ErrInterrupted is returned by work that observed a stop request or a
// cancelled context.
var ErrInterrupted = errors.New("interrupted")

// CheckStopping returns ErrInterrupted if ctx is done or a stop was requested.
func (s *Status) CheckStopping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	if s.stopping.Load() {
		return ErrInterrupted
	}
	return nil
}

// IsPaused reports whether the run is paused
func (s *Status) IsPaused() bool {
	return s.State() == Paused
}

// DryRun reports whether the current run only validates
func (s *Status) DryRun() bool {
	return s.dryRun.Load()
}

// Source returns the source label of the current run
func (s *Status) Source() string {
	return deref(s.source.Load())
}

// Target returns the target label of the current run
func (s *Status) Target() string {
	return deref(s.target.Load())
}

// BatchWeight returns the configured batch weight
func (s *Status) BatchWeight() int {
	return int(s.batchWeight.Load())
}

// SetCurrentlyScanning records the source location being scanned
func (s *Status) SetCurrentlyScanning(label string) {
	s.scanning.Store(&label)
}

// CurrentlyScanning returns the source location being scanned
func (s *Status) CurrentlyScanning() string {
	return deref(s.scanning.Load())
}

// SetCurrentlyImporting records the batch being imported
func (s *Status) SetCurrentlyImporting(label string) {
	s.importing.Store(&label)
}

// CurrentlyImporting returns the batch being imported
func (s *Status) CurrentlyImporting() string {
	return deref(s.importing.Load())
}

// SourceCounter returns the named source-side counter
func (s *Status) SourceCounter(name string) *Counter {
	return s.sourceCounters.Get(name)
}

// TargetCounter returns the named target-side counter
func (s *Status) TargetCounter(name string) *Counter {
	return s.targetCounters.Get(name)
}

// IncrementSourceCounter adds one to a source counter
func (s *Status) IncrementSourceCounter(name string) {
	s.sourceCounters.Get(name).Increment()
}

// IncrementTargetCounter adds n to a target counter
func (s *Status) IncrementTargetCounter(name string, n int64) {
	if n == 0 {
		return
	}
	s.targetCounters.Get(name).Add(n)
}

// SourceCounterNames returns the source counter names
func (s *Status) SourceCounterNames() []string {
	return s.sourceCounters.Names()
}

// TargetCounterNames returns the target counter names
func (s *Status) TargetCounterNames() []string {
	return s.targetCounters.Names()
}

// UnexpectedError records an item failure against the run
func (s *Status) UnexpectedError(item string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ErrorInfo{Time: time.Now(), Item: item, Err: err})
}

// Errors returns a copy of the recorded errors
func (s *Status) Errors() []ErrorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorInfo, len(s.errors))
	copy(out, s.errors)
	return out
}

// ErrorCount returns the number of recorded errors
func (s *Status) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

// StartTime returns when the current or last run started
func (s *Status) StartTime() (time.Time, bool) {
	return nanosToTime(s.startNanos.Load())
}

// EndTime returns when the last run completed
func (s *Status) EndTime() (time.Time, bool) {
	return nanosToTime(s.endNanos.Load())
}

// Duration is the elapsed time of the current or last run
func (s *Status) Duration() time.Duration {
	start, ok := s.StartTime()
	if !ok {
		return 0
	}
	end, ok := s.EndTime()
	if !ok {
		end = time.Now()
	}
	return end.Sub(start)
}

// SetPoolObserver attaches the worker pool whose figures are reported
func (s *Status) SetPoolObserver(p PoolObserver) {
	if p == nil {
		s.pool.Store(nil)
		return
	}
	s.pool.Store(&poolHolder{p})
}

// Pool returns the attached worker pool, if any
func (s *Status) Pool() (PoolObserver, bool) {
	h := s.pool.Load()
	if h == nil {
		return nil, false
	}
	return h.PoolObserver, true
}

// EstimatedRemaining projects the time left from the batch completion rate
// and the number of queued and active batches.
func (s *Status) EstimatedRemaining() (time.Duration, bool) {
	pool, ok := s.Pool()
	if !ok || !s.InProgress() {
		return 0, false
	}
	rate := s.TargetCounter(BatchesCompleted).Rate()
	if rate <= 0 {
		return 0, false
	}
	outstanding := pool.QueueSize() + pool.Active()
	return time.Duration(float64(outstanding) / rate * float64(time.Second)), true
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nanosToTime(ns int64) (time.Time, bool) {
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
