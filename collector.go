package procspawn

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	defaultMaxBuffer = 64 * 1024
	minMaxBuffer     = 32 * 1024
	maxMaxBuffer     = math.MaxInt32
	defaultTimeout   = 250 * time.Millisecond
	minTimeout       = 250 * time.Millisecond
)

// collectConfig holds Output's resolved options, built from defaults plus
// whatever CollectOptions the caller passes.
type collectConfig struct {
	maxBuffer   int
	timeout     time.Duration
	input       []byte
	inputUTF8   string
	hasInput    bool
	inputIsUTF8 bool
}

// CollectOption configures a Builder.Output call.
type CollectOption func(*collectConfig)

// WithMaxBuffer caps the bytes buffered per stream; clamped to
// [32 KiB, 2^31-1].
func WithMaxBuffer(n int) CollectOption {
	return func(c *collectConfig) { c.maxBuffer = n }
}

// WithTimeout bounds how long Output waits for the child to exit before
// destroying it and reporting "waitFor timed out"; clamped to a 250 ms
// minimum.
func WithTimeout(d time.Duration) CollectOption {
	return func(c *collectConfig) { c.timeout = d }
}

// WithInput supplies raw bytes to write to the child's stdin before
// Output collects output. At most one of WithInput/WithInputUTF8 takes
// effect; the last one passed wins.
func WithInput(b []byte) CollectOption {
	return func(c *collectConfig) { c.input = b; c.hasInput = true; c.inputIsUTF8 = false }
}

// WithInputUTF8 is WithInput's string convenience, chunked through
// WriteStream.WriteUTF8.
func WithInputUTF8(s string) CollectOption {
	return func(c *collectConfig) { c.inputUTF8 = s; c.hasInput = true; c.inputIsUTF8 = true }
}

// outputFeedBuffer is a RawFeed-backed accumulator: it appends segments
// up to maxBuffer without per-byte copying, truncating and flagging
// maxSizeExceeded on overflow, and records hasEnded on the EOS segment.
type outputFeedBuffer struct {
	mu       sync.Mutex
	max      int
	size     int
	segs     []*Segment
	exceeded bool
	ended    bool
}

func newOutputFeedBuffer(max int) *outputFeedBuffer {
	return &outputFeedBuffer{max: max}
}

func (o *outputFeedBuffer) feed() Feed {
	return RawFeed(func(seg *Segment) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if seg == nil {
			o.ended = true
			return nil
		}
		if o.size >= o.max {
			o.exceeded = true
			return nil
		}
		remaining := o.max - o.size
		n := seg.Size()
		if n > remaining {
			o.segs = append(o.segs, NewSegment(seg.Bytes()[:remaining]))
			o.size += remaining
			o.exceeded = true
			return nil
		}
		o.segs = append(o.segs, seg)
		o.size += n
		return nil
	})
}

func (o *outputFeedBuffer) hasEnded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

func (o *outputFeedBuffer) maxSizeExceeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exceeded
}

// doFinal consolidates the accumulated segments into one Segment and
// resets the buffer.
func (o *outputFeedBuffer) doFinal() *Segment {
	o.mu.Lock()
	segs := o.segs
	o.segs = nil
	o.size = 0
	o.mu.Unlock()
	seg, err := Consolidate(segs...)
	if err != nil {
		// segs are all sized under maxBuffer (<= 2^31-1), so overflow
		// cannot occur in practice; fall back to an empty segment
		// rather than propagate an error doFinal's signature doesn't
		// carry.
		return NewSegment(nil)
	}
	return seg
}

// Output holds the buffered stdout/stderr from one run-to-completion
// Builder.Output call, the composed processError (nil on a clean run),
// and a ProcessInfo snapshot.
type Output struct {
	Stdout       *Segment
	Stderr       *Segment
	ProcessError error
	Info         ProcessInfo
}

// Output drives the Builder's command to completion in one call: it
// forces stdout/stderr to Pipe, stdin to Pipe when input was supplied
// (otherwise a Pipe stdin becomes Null), attaches bounded OutputFeedBuffers, optionally streams
// input, waits for the reader workers to start, polls for exit with a
// 5-tick post-exit grace window, then destroys the process and composes
// the OutputRecord. The Builder's own Handler is bypassed: the collector
// always spawns with IgnoreHandler, since it drives teardown itself.
func (b *Builder) Output(ctx context.Context, opts ...CollectOption) (*Output, error) {
	cfg := collectConfig{maxBuffer: defaultMaxBuffer, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxBuffer < minMaxBuffer {
		cfg.maxBuffer = minMaxBuffer
	}
	if cfg.maxBuffer > maxMaxBuffer {
		cfg.maxBuffer = maxMaxBuffer
	}
	if cfg.timeout < minTimeout {
		cfg.timeout = minTimeout
	}

	savedHandler := b.handler
	b.handler = IgnoreHandler{}
	defer func() { b.handler = savedHandler }()

	p, err := b.spawn(&OutputOptions{hasInput: cfg.hasInput})
	if err != nil {
		return nil, err
	}
	startMark := time.Now()

	outBuf := newOutputFeedBuffer(cfg.maxBuffer)
	errBuf := newOutputFeedBuffer(cfg.maxBuffer)
	p.Stdout(outBuf.feed())
	p.Stderr(errBuf.feed())

	if cfg.hasInput {
		if in := p.Input(); in != nil {
			go func() {
				defer in.Close()
				if cfg.inputIsUTF8 {
					in.WriteUTF8(cfg.inputUTF8)
				} else {
					in.WriteAll(cfg.input)
				}
			}()
		}
	}

	phaseATimeout := cfg.timeout - 25*time.Millisecond
	if phaseATimeout < 0 {
		phaseATimeout = 0
	}
	waitLoop(phaseATimeout, 20*time.Millisecond, func() (struct{}, bool) {
		if p.disp.out.started.Load() && p.disp.err.started.Load() {
			return struct{}{}, true
		}
		return struct{}{}, false
	})

	var bufferExceeded, timedOut, cancelled bool
	postExitTicks := 0
	deadline := startMark.Add(cfg.timeout)
	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if c := p.ExitCodeOrNil(); c != nil {
			postExitTicks++
			if postExitTicks > 5 || (outBuf.hasEnded() && errBuf.hasEnded()) {
				break
			}
		} else if time.Now().After(deadline) {
			timedOut = true
			break
		}
		if outBuf.maxSizeExceeded() || errBuf.maxSizeExceeded() {
			bufferExceeded = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = p.Destroy()

	if w, werr := p.StdoutWaiter(); werr == nil {
		w.AwaitStop()
	}
	if w, werr := p.StderrWaiter(); werr == nil {
		w.AwaitStop()
	}
	exitCode := p.WaitFor()

	var processErr error
	switch {
	case bufferExceeded:
		processErr = fmt.Errorf("procspawn: maxBuffer[%d] exceeded: %w", cfg.maxBuffer, ErrMaxBufferExceeded)
	case cancelled:
		processErr = newError(KindCancellation, "output", ctx.Err())
	case timedOut:
		processErr = ErrWaitTimedOut
	}

	info := p.Info()
	info.ExitCode = &exitCode

	return &Output{
		Stdout:       outBuf.doFinal(),
		Stderr:       errBuf.doFinal(),
		ProcessError: processErr,
		Info:         info,
	}, nil
}
