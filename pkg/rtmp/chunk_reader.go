package rtmp

import (
	"bufio"
	"fmt"
	"io"
)

const defaultReadChunkSize = 128

// chunkStreamState is the per-chunk-stream-ID header cache fmt 1/2/3
// headers reuse fields from, per the RTMP chunking spec.
type chunkStreamState struct {
	timestamp   uint32
	length      int
	typeID      uint8
	streamID    uint32
	payload     []byte
	extendedTS  bool
}

// chunkReader reassembles RTMP messages out of the server's chunk
// stream, tracking per-chunk-stream-ID header state and the peer's
// negotiated read chunk size (updated on a Set Chunk Size protocol
// control message).
type chunkReader struct {
	r             *bufio.Reader
	readChunkSize int
	streams       map[int]*chunkStreamState

	// onPing is invoked with a User Control "Ping Request" event's
	// 4-byte timestamp payload so the caller can reply with a Ping
	// Response on the same connection; nil is a valid no-op.
	onPing func([]byte)
}

func newChunkReader(r *bufio.Reader) *chunkReader {
	return &chunkReader{
		r:             r,
		readChunkSize: defaultReadChunkSize,
		streams:       make(map[int]*chunkStreamState),
	}
}

// message is one fully reassembled RTMP message.
type message struct {
	typeID   uint8
	streamID uint32
	payload  []byte
}

// readMessage blocks until one complete message has been reassembled,
// transparently handling Set Chunk Size protocol control messages
// along the way.
func (cr *chunkReader) readMessage() (*message, error) {
	for {
		csid, fmtBits, err := cr.readBasicHeader()
		if err != nil {
			return nil, err
		}

		state, ok := cr.streams[csid]
		if !ok {
			state = &chunkStreamState{}
			cr.streams[csid] = state
		}

		if err := cr.readMessageHeader(fmtBits, state); err != nil {
			return nil, err
		}

		remaining := state.length - len(state.payload)
		toRead := remaining
		if toRead > cr.readChunkSize {
			toRead = cr.readChunkSize
		}
		chunk := make([]byte, toRead)
		if _, err := io.ReadFull(cr.r, chunk); err != nil {
			return nil, fmt.Errorf("rtmp: read chunk payload: %w", err)
		}
		state.payload = append(state.payload, chunk...)

		if len(state.payload) < state.length {
			continue // more chunks needed for this message
		}

		payload := state.payload
		typeID := state.typeID
		streamID := state.streamID
		state.payload = nil

		if typeID == protoSetChunkSize {
			if len(payload) >= 4 {
				cr.readChunkSize = int(beUint32(payload))
			}
			continue
		}
		if typeID == msgTypeUserControl {
			if len(payload) >= 2 && beUint16(payload) == userControlPingRequest && cr.onPing != nil {
				ts := make([]byte, 4)
				copy(ts, payload[2:])
				cr.onPing(ts)
			}
			continue
		}
		// Abort, acknowledgement, window ack size, and set peer bandwidth
		// messages need no reaction from a publish-only client; every
		// other message is returned to the caller.
		switch typeID {
		case 2, 3, 5, 6:
			continue
		}

		return &message{typeID: typeID, streamID: streamID, payload: payload}, nil
	}
}

const (
	protoSetChunkSize = 1
)

func (cr *chunkReader) readBasicHeader() (csid int, fmtBits byte, err error) {
	b0, err := cr.r.ReadByte()
	if err != nil {
		return 0, 0, fmt.Errorf("rtmp: read basic header: %w", err)
	}
	fmtBits = b0 >> 6
	low := int(b0 & 0x3F)

	switch low {
	case 0:
		b1, err := cr.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return 64 + int(b1), fmtBits, nil
	case 1:
		b1, err := cr.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		b2, err := cr.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return 64 + int(b1) + int(b2)<<8, fmtBits, nil
	default:
		return low, fmtBits, nil
	}
}

func (cr *chunkReader) readMessageHeader(fmtBits byte, state *chunkStreamState) error {
	switch fmtBits {
	case 0:
		hdr := make([]byte, 11)
		if _, err := io.ReadFull(cr.r, hdr); err != nil {
			return fmt.Errorf("rtmp: read type-0 header: %w", err)
		}
		ts := beUint24(hdr[0:3])
		state.length = int(beUint24(hdr[3:6]))
		state.typeID = hdr[6]
		state.streamID = uint32(hdr[7]) | uint32(hdr[8])<<8 | uint32(hdr[9])<<16 | uint32(hdr[10])<<24
		return cr.resolveTimestamp(ts, state, false)
	case 1:
		hdr := make([]byte, 7)
		if _, err := io.ReadFull(cr.r, hdr); err != nil {
			return fmt.Errorf("rtmp: read type-1 header: %w", err)
		}
		delta := beUint24(hdr[0:3])
		state.length = int(beUint24(hdr[3:6]))
		state.typeID = hdr[6]
		return cr.resolveTimestamp(delta, state, true)
	case 2:
		hdr := make([]byte, 3)
		if _, err := io.ReadFull(cr.r, hdr); err != nil {
			return fmt.Errorf("rtmp: read type-2 header: %w", err)
		}
		delta := beUint24(hdr)
		return cr.resolveTimestamp(delta, state, true)
	case 3:
		return nil // entirely reuse previous header
	default:
		return fmt.Errorf("rtmp: invalid chunk fmt %d", fmtBits)
	}
}

func (cr *chunkReader) resolveTimestamp(value uint32, state *chunkStreamState, delta bool) error {
	if value == 0xFFFFFF {
		ext := make([]byte, 4)
		if _, err := io.ReadFull(cr.r, ext); err != nil {
			return fmt.Errorf("rtmp: read extended timestamp: %w", err)
		}
		value = beUint32(ext)
		state.extendedTS = true
	} else {
		state.extendedTS = false
	}
	if delta {
		state.timestamp += value
	} else {
		state.timestamp = value
	}
	return nil
}

func beUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
