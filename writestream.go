package procspawn

import (
	"context"
	"os"
	"sync"
)

// WriteStream is a thin writer over the child's stdin pipe. It is safe
// to call Close concurrently with Write; Close is idempotent.
type WriteStream struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func newWriteStream(f *os.File) *WriteStream {
	return &WriteStream{f: f}
}

// Write enqueues buf[offset:offset+length], blocking until every byte is
// written or an error occurs.
func (w *WriteStream) Write(buf []byte, offset, length int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, newError(KindIO, "write", os.ErrClosed)
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return 0, newError(KindIO, "write", os.ErrInvalid)
	}
	n, err := w.f.Write(buf[offset : offset+length])
	if err != nil {
		return n, newError(KindIO, "write", err)
	}
	return n, nil
}

// WriteAll is a convenience for Write(buf, 0, len(buf)).
func (w *WriteStream) WriteAll(buf []byte) (int, error) {
	return w.Write(buf, 0, len(buf))
}

// WriteUTF8 chunks s through an 8 KiB scratch buffer, zero-filling the
// buffer in a defer regardless of outcome.
func (w *WriteStream) WriteUTF8(s string) error {
	const chunk = 8192
	buf := make([]byte, chunk)
	defer zeroFill(buf)

	b := []byte(s)
	for len(b) > 0 {
		n := copy(buf, b)
		if _, err := w.Write(buf, 0, n); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Flush is a no-op: the underlying pipe is unbuffered.
func (w *WriteStream) Flush() error { return nil }

// Close closes the write end, letting the child observe EOF on stdin.
// Idempotent.
func (w *WriteStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		return newError(KindIO, "close", err)
	}
	return nil
}

// WriteAsync mirrors Write cooperatively: it runs the write on a
// goroutine and returns when either it completes or ctx is cancelled.
// Cancellation leaves the stream closed, so a stranded fd never lingers.
func (w *WriteStream) WriteAsync(ctx context.Context, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := w.WriteAll(buf)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		// Closing the file directly unblocks a write still in progress;
		// Close then takes the lock once that write has returned.
		w.f.Close()
		w.Close()
		return 0, newError(KindCancellation, "write", ctx.Err())
	}
}

// CloseAsync mirrors Close cooperatively: it reports cancellation if ctx
// is already done and otherwise calls Close, which waits for any Write
// in progress to finish.
func (w *WriteStream) CloseAsync(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return newError(KindCancellation, "close", ctx.Err())
	default:
		return w.Close()
	}
}

// zeroFill wipes buf so child stdin payloads don't linger in the scratch
// buffer's backing memory after use.
func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
