package wire

import (
	"fmt"
	"io"
)

// AttachmentSource describes one stream attachment to be written after
// a frame, in declared order (spec §4.1, §6). Length must equal the
// exact number of bytes Reader will yield.
type AttachmentSource struct {
	ID     string
	Length int64
	Reader io.Reader

	// Progress, if non-nil, is invoked with 1..100 as the attachment
	// is written, at least once per whole-percent boundary crossed,
	// strictly increasing, ending with exactly 100 when the last byte
	// is flushed (spec §4.1). Delivery happens on a bounded internal
	// channel so a slow consumer applies backpressure to the sender
	// rather than being silently skipped — every percent boundary is
	// guaranteed delivery, never dropped.
	Progress func(percent int)
}

// attachmentCursor enforces in-order consumption of a frame's declared
// attachments. On the wire each attachment is u64_le length || raw
// bytes back to back with no separator, so the length header for
// attachment N+1 cannot be located until attachment N's body has been
// read to its last byte; StreamReader.Read reads its own length header
// lazily, only once it becomes the cursor's current attachment.
type attachmentCursor struct {
	r   io.Reader
	idx int
}

// StreamReader is a lazily-consumed inbound stream attachment (spec
// §4.1: "each handle streams its attachment lazily"). Attachments
// declared by a frame must be fully read, in declared order, before
// the Codec will produce the next frame; reading less than Length
// bytes and moving on is a protocol error.
type StreamReader struct {
	ID     string
	Length int64 // valid only after the first successful Read or a call to Open

	index     int
	cursor    *attachmentCursor
	remaining int64
	opened    bool
	drained   bool
}

func newStreamReader(id string, index int, cursor *attachmentCursor) *StreamReader {
	return &StreamReader{ID: id, index: index, cursor: cursor}
}

// Open reads this attachment's length header, if this is the cursor's
// current attachment. It is called implicitly by Read; exposed
// separately so a caller can learn Length before reading any bytes.
func (s *StreamReader) Open() error {
	if s.opened {
		return nil
	}
	if s.cursor.idx != s.index {
		return errMalformed("stream %q: read out of order (attachment %d must be fully consumed first)", s.ID, s.cursor.idx)
	}
	length, err := readAttachmentHeader(s.cursor.r)
	if err != nil {
		return err
	}
	s.Length = length
	s.remaining = length
	s.opened = true
	if s.remaining == 0 {
		s.drained = true
		s.cursor.idx++
	}
	return nil
}

func (s *StreamReader) Read(p []byte) (int, error) {
	if err := s.Open(); err != nil {
		return 0, err
	}
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.cursor.r.Read(p)
	s.remaining -= int64(n)
	if s.remaining == 0 {
		s.drained = true
		s.cursor.idx++
	}
	return n, err
}

// progressPump delivers percent updates to a callback off of the
// write goroutine's hot path, backpressuring on a full channel instead
// of dropping updates.
type progressPump struct {
	ch   chan int
	done chan struct{}
}

func startProgressPump(cb func(percent int)) *progressPump {
	p := &progressPump{ch: make(chan int, 32), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for pct := range p.ch {
			cb(pct)
		}
	}()
	return p
}

func (p *progressPump) report(percent int) {
	p.ch <- percent
}

func (p *progressPump) close() {
	close(p.ch)
	<-p.done
}

// writeAttachment writes one attachment as u64_le length || raw bytes,
// invoking src.Progress (if set) at each whole-percent boundary.
func writeAttachment(w io.Writer, src AttachmentSource) error {
	if err := writeUint64LE(w, uint64(src.Length)); err != nil {
		return err
	}
	if src.Length == 0 {
		if src.Progress != nil {
			src.Progress(100)
		}
		return nil
	}

	var pump *progressPump
	if src.Progress != nil {
		pump = startProgressPump(src.Progress)
		defer pump.close()
	}

	buf := make([]byte, 64*1024)
	var written int64
	lastPct := 0
	for written < src.Length {
		n, err := src.Reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			pct := int(written * 100 / src.Length)
			if pct > 100 {
				pct = 100
			}
			if pump != nil {
				for lastPct < pct {
					lastPct++
					pump.report(lastPct)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				if written < src.Length {
					return fmt.Errorf("attachment %s: source exhausted after %d of %d bytes", src.ID, written, src.Length)
				}
				break
			}
			return err
		}
	}
	if pump != nil {
		for lastPct < 100 {
			lastPct++
			pump.report(lastPct)
		}
	}
	return nil
}

func readAttachmentHeader(r io.Reader) (int64, error) {
	n, err := readUint64LE(r)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
