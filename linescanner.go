package procspawn

import "unicode/utf8"

// lineDispatch receives a decoded line, or nil exactly once to signal
// end-of-stream.
type lineDispatch func(line *string) error

// lineScanner splits byte segments into UTF-8 lines on CR, LF, or CRLF,
// dispatching each completed line and a final nil on close. It is
// single-threaded per stream: callers must serialize onData/close calls
// (the reader goroutine in process.go already does this).
type lineScanner struct {
	skipLF bool
	closed bool

	// buf accumulates the line currently being assembled, as raw bytes
	// rather than strings.Builder: a Builder never exposes its backing
	// array, so there is no way to zero it. watermark/bufCap track the
	// high-water mark of buf's current backing array so every
	// reset/close can zero-fill exactly the range that held decoded
	// process output, rather than just dropping the reference and
	// leaving it resident in memory.
	buf       []byte
	watermark int
	bufCap    int

	// pending holds UTF-8 bytes not yet decodable into a full rune,
	// because they were split across onData calls or are literally
	// malformed; this wraps unicode/utf8's one-shot DecodeRune to
	// tolerate that split.
	pending []byte

	dispatch lineDispatch
}

func newLineScanner(dispatch lineDispatch) *lineScanner {
	return &lineScanner{dispatch: dispatch}
}

// onData feeds len(b) bytes through the CR/LF/CRLF splitter.
func (ls *lineScanner) onData(b []byte) error {
	if ls.closed {
		return nil
	}
	for _, c := range b {
		switch {
		case ls.skipLF && c == '\n':
			ls.skipLF = false
			continue
		case c == '\r':
			ls.skipLF = true
			if err := ls.emit(); err != nil {
				return err
			}
		case c == '\n':
			ls.skipLF = false
			if err := ls.emit(); err != nil {
				return err
			}
		default:
			ls.skipLF = false
			ls.feedDecoder(c)
		}
	}
	return nil
}

// feedDecoder appends one raw byte to the pending UTF-8 buffer and drains
// as many complete runes as are available into the line buffer.
func (ls *lineScanner) feedDecoder(c byte) {
	ls.pending = append(ls.pending, c)
	for len(ls.pending) > 0 {
		if !utf8.FullRune(ls.pending) {
			// Might still be an in-progress multi-byte sequence;
			// wait for more bytes, unless it's already too long to
			// be a valid lead byte, in which case DecodeRune below
			// will report RuneError and we drain one byte at a time.
			if len(ls.pending) < utf8.UTFMax {
				return
			}
		}
		r, size := utf8.DecodeRune(ls.pending)
		if r == utf8.RuneError && size <= 1 && !utf8.FullRune(ls.pending) {
			return
		}
		ls.writeRune(r)
		ls.pending = ls.pending[size:]
	}
}

// writeRune appends r's UTF-8 encoding to buf and updates the watermark.
func (ls *lineScanner) writeRune(r rune) {
	ls.buf = utf8.AppendRune(ls.buf, r)
	ls.trackWatermark()
}

// trackWatermark records the high-water mark of buf's current backing
// array. A change in cap means append reallocated: the old array (and
// whatever of the prior line it still holds) is already out of reach, so
// tracking restarts against the new array's own history.
func (ls *lineScanner) trackWatermark() {
	if cap(ls.buf) != ls.bufCap {
		ls.bufCap = cap(ls.buf)
		ls.watermark = len(ls.buf)
		return
	}
	if len(ls.buf) > ls.watermark {
		ls.watermark = len(ls.buf)
	}
}

// flushPending decodes any undecodable trailing bytes as replacement
// characters, used right before a line boundary so partial sequences
// don't silently vanish.
func (ls *lineScanner) flushPending() {
	for len(ls.pending) > 0 {
		r, size := utf8.DecodeRune(ls.pending)
		ls.writeRune(r)
		if size == 0 {
			size = 1
		}
		ls.pending = ls.pending[size:]
	}
}

// emit flushes the decoder, snapshots buf as a completed line, dispatches
// it, and resets buf.
func (ls *lineScanner) emit() error {
	ls.flushPending()
	line := string(ls.buf)
	ls.resetBuf()
	return ls.dispatch(&line)
}

// resetBuf zero-fills buf's backing array up through the watermark, then
// truncates buf to length zero, so no decoded process output lingers in
// memory once a line has been dispatched.
func (ls *lineScanner) resetBuf() {
	if ls.watermark > cap(ls.buf) {
		ls.watermark = cap(ls.buf)
	}
	zeroFill(ls.buf[:ls.watermark])
	ls.buf = ls.buf[:0]
}

// close finalizes any residual partial line, dispatches it, then
// dispatches the end-of-stream nil marker. Re-entry after closure is a
// no-op.
func (ls *lineScanner) close() error {
	if ls.closed {
		return nil
	}
	ls.closed = true
	ls.flushPending()
	if len(ls.buf) > 0 {
		line := string(ls.buf)
		ls.resetBuf()
		if err := ls.dispatch(&line); err != nil {
			return err
		}
	}
	return ls.dispatch(nil)
}
