package procspawn

import (
	"errors"
	"testing"
)

func TestDispatcherAttachDedupByIdentity(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, true, true)
	f := LineFeed(func(*string) error { return nil })
	d.attach(sideStdout, f)
	d.attach(sideStdout, f)
	got := *d.out.feeds.Load()
	// One entry for the synthesized scanner feed, one for f; attaching f
	// twice must not duplicate it.
	count := 0
	for _, have := range got {
		if have.equal(f) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("feed attached twice, found %d copies", count)
	}
}

func TestDispatcherLineRouting(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, true, true)
	var got []string
	d.attach(sideStdout, LineFeed(func(line *string) error {
		if line != nil {
			got = append(got, *line)
		}
		return nil
	}))

	d.dispatchBytes(sideStdout, []byte("one\ntwo\n"))
	d.dispatchBytes(sideStdout, nil)

	want := []string{"one", "two"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if !d.out.stopped {
		t.Fatalf("expected stdout stream to be marked stopped after EOS")
	}
}

func TestDispatcherRawRouting(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, true, true)
	var sizes []int
	d.attach(sideStdout, RawFeed(func(seg *Segment) error {
		sizes = append(sizes, seg.Size())
		return nil
	}))

	d.dispatchBytes(sideStdout, []byte("abc"))
	d.dispatchBytes(sideStdout, []byte("de"))
	d.dispatchBytes(sideStdout, nil)

	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 2 || sizes[2] != 0 {
		t.Fatalf("got sizes %v, want [3 2 0]", sizes)
	}
}

func TestDispatcherWaiterBeforeDestroyIsIllegalState(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, true, true)
	_, err := d.waiterFor(sideStdout)
	var pe *ProcessError
	if !errors.As(err, &pe) || pe.Kind != KindIllegalState {
		t.Fatalf("got %v, want KindIllegalState", err)
	}
}

func TestDispatcherWaiterAwaitStopAfterEOS(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, true, true)
	d.attach(sideStdout, RawFeed(func(*Segment) error { return nil }))
	d.dispatchBytes(sideStdout, nil)
	d.destroyed.Store(true)

	w, err := d.waiterFor(sideStdout)
	if err != nil {
		t.Fatalf("waiterFor: %v", err)
	}
	w.AwaitStop()
	if !w.Stopped() {
		t.Fatalf("expected Stopped() true after AwaitStop returns")
	}
}

func TestDispatcherNonPipeStreamStartsStopped(t *testing.T) {
	d := newDispatcher(nil, IgnoreHandler{}, false, true)
	d.destroyed.Store(true)
	w, err := d.waiterFor(sideStdout)
	if err != nil {
		t.Fatalf("waiterFor: %v", err)
	}
	if !w.Stopped() {
		t.Fatalf("non-pipe stream should report already-stopped")
	}
}

func TestDispatcherHandlerRethrowMarksFatal(t *testing.T) {
	boom := errors.New("boom")
	var fatalSide side
	var fatalErr error
	d := newDispatcher(nil, rethrowHandler{}, true, true)
	d.onFatal = func(s side, err error) {
		fatalSide = s
		fatalErr = err
	}
	d.attach(sideStderr, RawFeed(func(*Segment) error { return boom }))
	d.dispatchBytes(sideStderr, []byte("x"))

	if fatalSide != sideStderr {
		t.Fatalf("got side %v, want stderr", fatalSide)
	}
	if fatalErr == nil {
		t.Fatalf("expected onFatal to receive a non-nil error")
	}
	if !d.err.stopped {
		t.Fatalf("expected stderr side to be stopped after a rethrown feed error")
	}
}

type rethrowHandler struct{}

func (rethrowHandler) OnException(ctx string, err error) error { return err }
