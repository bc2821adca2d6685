package procspawn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handler is the central failure sink for feed errors and exceptions
// raised while tearing a Process down. OnException returns nil to
// swallow the error (the stream, or the overall process, keeps running)
// or a non-nil error to signal that the caller should treat it as fatal:
// the affected stream is marked stopped, and for any context other than
// "destroy" the dispatcher schedules a deferred Destroy.
type Handler interface {
	OnException(ctx string, err error) error
}

// IgnoreHandler swallows every exception. It is the handler used
// internally by OutputCollector, which has its own control flow.
type IgnoreHandler struct{}

func (IgnoreHandler) OnException(string, error) error { return nil }

// side identifies which standard stream a dispatcher operation concerns.
type side int

const (
	sideStdout side = iota
	sideStderr
)

func (s side) context() string {
	if s == sideStdout {
		return "feed.stdout"
	}
	return "feed.stderr"
}

func (s side) String() string {
	if s == sideStdout {
		return "stdout"
	}
	return "stderr"
}

// streamState holds one stream's dispatch state: the append-only feed
// array (snapshotted per dispatch pass so late attachments are visible on
// the next pass, never mid-pass), the started/stopped flags, and the
// lazily-synthesized internal line scanner feed.
type streamState struct {
	mu sync.Mutex

	// feeds is swapped, never mutated in place, under mu. Readers that
	// are mid-dispatch hold their own snapshot from before the swap.
	feeds atomic.Pointer[[]Feed]

	started atomic.Bool // one-way false->true; piped streams only
	stopped bool

	scanner     *lineScanner
	scannerFeed Feed // synthesized; equal() identifies it among feeds

	startCh  chan struct{} // closed the moment started transitions true
	stopCh   chan struct{} // closed the moment stopped transitions true
	stopOnce sync.Once
}

func newStreamState(isPipe bool) *streamState {
	ss := &streamState{
		startCh: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
	empty := []Feed{}
	ss.feeds.Store(&empty)
	if !isPipe {
		// started/stopped initialize true when the stream cannot
		// dispatch at all (not a Pipe).
		ss.started.Store(true)
		ss.stopped = true
		close(ss.startCh)
		close(ss.stopCh)
	}
	return ss
}

func (ss *streamState) awaitStart() <-chan struct{} {
	return ss.startCh
}

func (ss *streamState) markStarted() {
	if ss.started.CompareAndSwap(false, true) {
		close(ss.startCh)
	}
}

func (ss *streamState) markStopped() {
	ss.stopOnce.Do(func() { close(ss.stopCh) })
}

// dispatcher is the per-Process object routing reader output to feeds,
// one streamState per standard stream.
type dispatcher struct {
	logger  *zap.Logger
	handler Handler

	out *streamState
	err *streamState

	// destroyed gates Waiter construction (requesting one before Destroy
	// is KindIllegalState) and attach() no-ops.
	destroyed atomic.Bool

	// onFatal is invoked (at most once per side) when a feed error is
	// not swallowed by handler, so Process can schedule a deferred
	// destroy without the dispatcher importing Process.
	onFatal func(s side, err error)
}

func newDispatcher(logger *zap.Logger, handler Handler, stdoutIsPipe, stderrIsPipe bool) *dispatcher {
	if handler == nil {
		handler = IgnoreHandler{}
	}
	return &dispatcher{
		logger:  logger,
		handler: handler,
		out:     newStreamState(stdoutIsPipe),
		err:     newStreamState(stderrIsPipe),
	}
}

func (d *dispatcher) stateFor(s side) *streamState {
	if s == sideStdout {
		return d.out
	}
	return d.err
}

// attach adds feeds to the given side: a no-op when stopped, destroyed,
// the side isn't a Pipe, or feeds is empty; the first line feed in a
// batch synthesizes the internal scanner feed if one isn't already
// present; dedup is by Feed identity; a no-feeds->some-feeds transition
// marks the stream started.
func (d *dispatcher) attach(s side, feeds ...Feed) {
	if len(feeds) == 0 || d.destroyed.Load() {
		return
	}
	ss := d.stateFor(s)

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.stopped {
		return
	}

	cur := *ss.feeds.Load()
	wasEmpty := len(cur) == 0

	hasLine := false
	for _, f := range feeds {
		if f.isLine() {
			hasLine = true
			break
		}
	}
	needsScanner := hasLine && ss.scanner == nil

	next := append([]Feed{}, cur...)
	if needsScanner {
		ss.scanner = newLineScanner(func(line *string) error {
			return d.routeLine(s, line)
		})
		ss.scannerFeed = Feed{id: feedSeq.Add(1), raw: nil}
		ss.scannerFeed.line = nil
		next = append(next, ss.scannerFeed)
	}
	for _, f := range feeds {
		dup := false
		for _, have := range next {
			if have.equal(f) {
				dup = true
				break
			}
		}
		if !dup {
			next = append(next, f)
		}
	}
	ss.feeds.Store(&next)

	if wasEmpty && len(next) > 0 {
		ss.markStarted()
	}
}

// routeLine delivers a scanner-decoded line to every attached line feed.
func (d *dispatcher) routeLine(s side, line *string) error {
	ss := d.stateFor(s)
	feeds := *ss.feeds.Load()
	var errs suppressedErrors
	for _, f := range feeds {
		if !f.isLine() {
			continue
		}
		if err := safeCall(func() error { return f.line(line) }); err != nil {
			errs.add(err)
		}
	}
	return errs.err()
}

// dispatchBytes is called by a reader worker with data read, or with
// data == nil to signal EOS. It builds one Segment lazily and shares it
// across every raw feed on this call.
func (d *dispatcher) dispatchBytes(s side, data []byte) {
	ss := d.stateFor(s)
	isEOS := data == nil

	feeds := *ss.feeds.Load()

	var seg *Segment

	var errs suppressedErrors
	for _, f := range feeds {
		if ss.scanner != nil && f.equal(ss.scannerFeed) {
			var err error
			if isEOS {
				err = safeCall(ss.scanner.close)
			} else {
				err = safeCall(func() error { return ss.scanner.onData(data) })
			}
			if err != nil {
				errs.add(err)
			}
			continue
		}
		if f.isRaw() {
			if seg == nil && !isEOS {
				seg = NewSegment(data)
			}
			if err := safeCall(func() error { return f.raw(seg) }); err != nil {
				errs.add(err)
			}
		}
	}

	err := errs.err()
	if err != nil {
		rethrow := d.handler.OnException(s.context(), err)
		if rethrow == nil {
			err = nil
		} else {
			err = rethrow
		}
	}

	if isEOS || err != nil {
		ss.mu.Lock()
		empty := []Feed{}
		ss.feeds.Store(&empty)
		ss.stopped = true
		ss.scanner = nil
		ss.mu.Unlock()
		ss.markStopped()
		if d.logger != nil {
			d.logger.Debug("stream stopped", zap.Stringer("side", s), zap.Bool("eos", isEOS), zap.Error(err))
		}
		if err != nil && d.onFatal != nil {
			d.onFatal(s, err)
		}
	}
}

// safeCall recovers a panicking feed callback and turns it into an error,
// so one misbehaving feed cannot take down the reader goroutine.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("procspawn: feed panicked: %v", r)
			}
		}
	}()
	return fn()
}

// Waiter lets a caller block until no further feed callbacks will fire on
// a side. Constructing one before Destroy is KindIllegalState.
type Waiter struct {
	ss *streamState
}

func (d *dispatcher) waiterFor(s side) (*Waiter, error) {
	if !d.destroyed.Load() {
		return nil, newError(KindIllegalState, "waiter", nil)
	}
	return &Waiter{ss: d.stateFor(s)}, nil
}

// AwaitStop blocks until the stream is stopped, or was never started.
func (w *Waiter) AwaitStop() {
	if !w.ss.started.Load() {
		return
	}
	<-w.ss.stopCh
}

// Stopped reports whether the stream has already reached its stopped
// state, without blocking.
func (w *Waiter) Stopped() bool {
	select {
	case <-w.ss.stopCh:
		return true
	default:
		return false
	}
}
