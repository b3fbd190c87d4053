package rtmp

import (
	"bufio"
	"fmt"
)

// Chunk stream IDs this client uses, matching common RTMP publisher
// conventions: 2 for protocol control messages, 3 for command
// messages, 4 for video, 6 for audio.
const (
	csidProtocolControl = 2
	csidControl         = 3
	csidAudio           = 6
	csidVideo           = 4
)

// defaultWriteChunkSize is the RTMP-mandated chunk size every
// connection starts at in both directions; a peer must announce any
// other size with a Set Chunk Size control message before sending
// chunks that large, or the receiver's parser desyncs against the
// unannounced split point.
const defaultWriteChunkSize = 128

const (
	msgTypeUserControl = 4
	msgTypeAudio       = 8
	msgTypeVideo       = 9
	msgTypeData        = 18
	msgTypeCommandAMF  = 20
)

// User Control Message event types this client reacts to (RTMP spec
// §7.1.7): a server Ping Request must be answered with a Ping Response
// carrying the same timestamp, or a conforming server eventually drops
// the connection as unresponsive.
const (
	userControlPingRequest  = 6
	userControlPingResponse = 7
)

// chunkWriter splits RTMP messages into chunks no larger than
// chunkSize and writes them to the underlying connection, using an
// fmt-0 header for each message's first chunk and fmt-3 headers for
// continuation chunks. Extended (>= 0xFFFFFF) timestamps are not
// supported: this plugin's FLV timestamps are milliseconds since the
// start of one publish, so writeMessage fails once a publish has run
// for 0xFFFFFF ms (about 4 hours 40 minutes).
type chunkWriter struct {
	w         *bufio.Writer
	chunkSize int
}

func newChunkWriter(w *bufio.Writer, chunkSize int) *chunkWriter {
	return &chunkWriter{w: w, chunkSize: chunkSize}
}

// writeSetChunkSize announces a new outbound chunk size to the peer
// via a type-1 protocol control message on csid 2, then switches this
// writer's own split point to match. Every connection starts at
// defaultWriteChunkSize in both directions (RTMP spec default); until
// this announces otherwise, the server's parser assumes 128-byte
// chunks, so this must run before any message larger than that is
// written.
func (cw *chunkWriter) writeSetChunkSize(size int) error {
	body := []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	if err := cw.writeMessage(csidProtocolControl, protoSetChunkSize, 0, 0, body); err != nil {
		return fmt.Errorf("rtmp: write set chunk size: %w", err)
	}
	cw.chunkSize = size
	return nil
}

func (cw *chunkWriter) writeMessage(csid int, typeID uint8, streamID uint32, timestamp uint32, payload []byte) error {
	if timestamp >= 0xFFFFFF {
		return fmt.Errorf("rtmp: timestamp %d exceeds extended-timestamp-free range", timestamp)
	}
	if len(payload) == 0 {
		return fmt.Errorf("rtmp: empty message payload")
	}

	if err := cw.writeBasicHeader(0, csid); err != nil {
		return err
	}
	if err := cw.writeMessageHeaderType0(timestamp, len(payload), typeID, streamID); err != nil {
		return err
	}

	offset := 0
	for offset < len(payload) {
		end := offset + cw.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if offset > 0 {
			if err := cw.writeBasicHeader(3, csid); err != nil {
				return err
			}
		}
		if _, err := cw.w.Write(payload[offset:end]); err != nil {
			return fmt.Errorf("rtmp: write chunk payload: %w", err)
		}
		offset = end
	}

	return cw.w.Flush()
}

func (cw *chunkWriter) writeBasicHeader(fmtBits byte, csid int) error {
	if csid < 2 || csid > 65599 {
		return fmt.Errorf("rtmp: chunk stream id %d out of range", csid)
	}
	switch {
	case csid < 64:
		return cw.w.WriteByte(fmtBits<<6 | byte(csid))
	case csid < 320:
		if err := cw.w.WriteByte(fmtBits << 6); err != nil {
			return err
		}
		return cw.w.WriteByte(byte(csid - 64))
	default:
		if err := cw.w.WriteByte(fmtBits<<6 | 0x01); err != nil {
			return err
		}
		rem := csid - 64
		if err := cw.w.WriteByte(byte(rem)); err != nil {
			return err
		}
		return cw.w.WriteByte(byte(rem >> 8))
	}
}

func (cw *chunkWriter) writeMessageHeaderType0(timestamp uint32, length int, typeID uint8, streamID uint32) error {
	hdr := make([]byte, 11)
	hdr[0] = byte(timestamp >> 16)
	hdr[1] = byte(timestamp >> 8)
	hdr[2] = byte(timestamp)
	hdr[3] = byte(length >> 16)
	hdr[4] = byte(length >> 8)
	hdr[5] = byte(length)
	hdr[6] = typeID
	// Message stream id is little-endian, per the RTMP spec (the one
	// field that breaks the otherwise-consistent big-endian layout).
	hdr[7] = byte(streamID)
	hdr[8] = byte(streamID >> 8)
	hdr[9] = byte(streamID >> 16)
	hdr[10] = byte(streamID >> 24)
	_, err := cw.w.Write(hdr)
	return err
}
