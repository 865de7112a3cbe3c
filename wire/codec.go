package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/flate"
)

// maxFrameLength bounds the u32_le length prefix so a corrupt or
// malicious peer cannot make us allocate an unbounded buffer.
const maxFrameLength = 64 * 1024 * 1024

// Codec reads and writes Halibut frames over a byte stream (spec
// §4.1). It holds one lock per direction: concurrent WriteFrame calls
// are serialized by writeMu and concurrent ReadFrame calls by readMu,
// although the protocol is strictly request/response alternating on
// one Connection anyway (spec §5).
type Codec struct {
	rw io.ReadWriter

	writeMu sync.Mutex
	readMu  sync.Mutex

	// pending holds StreamReaders returned by the most recent
	// ReadFrame that the caller has not yet fully drained. The next
	// ReadFrame call refuses to proceed until all of them report
	// drained, per spec §4.1's "skipping an unread attachment is a
	// protocol error."
	pending []*StreamReader
}

// NewCodec wraps rw (typically a secure Connection's byte stream) in a
// Codec.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

// WriteFrame serializes and flushes frame, followed by each of
// attachments in order. The whole write is atomic with respect to
// other WriteFrame calls on this Codec. attachments must correspond
// exactly, in order, to frame's declared stream ids.
func (c *Codec) WriteFrame(frame *Frame, attachments []AttachmentSource) error {
	env, err := frame.toEnvelope()
	if err != nil {
		return err
	}
	declared := frame.StreamIDs
	if len(declared) != len(attachments) {
		return errMalformed("WriteFrame: %d declared stream ids but %d attachments given", len(declared), len(attachments))
	}
	for i, a := range attachments {
		if a.ID != declared[i] {
			return errMalformed("WriteFrame: attachment %d id %q does not match declared id %q", i, a.ID, declared[i])
		}
	}

	raw, err := cbor.Marshal(env)
	if err != nil {
		return errMalformed("WriteFrame: encode failed: %s", err)
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return err
	}
	if _, err := fw.Write(raw); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}
	if compressed.Len() > maxFrameLength {
		return errMalformed("WriteFrame: encoded frame too large (%d bytes)", compressed.Len())
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := writeUint32LE(c.rw, uint32(compressed.Len())); err != nil {
		return err
	}
	if _, err := c.rw.Write(compressed.Bytes()); err != nil {
		return err
	}
	for _, a := range attachments {
		if err := writeAttachment(c.rw, a); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame blocks until a complete frame is available and returns it
// along with lazy readers for any declared stream attachments, in
// declared order. The readers must be fully consumed before the next
// call to ReadFrame.
func (c *Codec) ReadFrame() (*Frame, []*StreamReader, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for _, p := range c.pending {
		if !p.drained {
			return nil, nil, errMalformed("ReadFrame: previous attachment %q was not fully read (protocol violation)", p.ID)
		}
	}
	c.pending = nil

	length, err := readUint32LE(c.rw)
	if err != nil {
		return nil, nil, err
	}
	if length > maxFrameLength {
		return nil, nil, errMalformed("ReadFrame: frame length %d exceeds maximum", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, nil, err
	}

	fr := flate.NewReader(bytes.NewReader(buf))
	defer fr.Close()
	raw, err := io.ReadAll(fr)
	if err != nil {
		return nil, nil, errMalformed("ReadFrame: inflate failed: %s", err)
	}

	// Integers inside interface{} fields (Arguments, Result) decode as
	// int64 whatever their sign, so an int64 written by WriteFrame reads
	// back as int64 rather than the library default of uint64.
	dm, err := cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		return nil, nil, err
	}
	var env envelope
	if err := dm.Unmarshal(raw, &env); err != nil {
		return nil, nil, errMalformed("ReadFrame: decode failed: %s", err)
	}
	frame, err := fromEnvelope(&env)
	if err != nil {
		return nil, nil, err
	}

	readers := make([]*StreamReader, len(frame.StreamIDs))
	if len(frame.StreamIDs) > 0 {
		cursor := &attachmentCursor{r: c.rw}
		for i, id := range frame.StreamIDs {
			readers[i] = newStreamReader(id, i, cursor)
		}
	}
	c.pending = readers

	return frame, readers, nil
}

func writeUint32LE(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32LE(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint64LE(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64LE(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
