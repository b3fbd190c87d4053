package rtmp

import (
	"bufio"
	"bytes"
	"testing"
)

func TestChunkWriterReaderRoundTripSingleChunk(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := newChunkWriter(bw, 128)

	payload := []byte("short audio tag body")
	if err := cw.writeMessage(csidAudio, msgTypeAudio, 1, 1234, payload); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cr := newChunkReader(bufio.NewReader(&buf))
	msg, err := cr.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if msg.typeID != msgTypeAudio {
		t.Errorf("typeID = %d, want %d", msg.typeID, msgTypeAudio)
	}
	if msg.streamID != 1 {
		t.Errorf("streamID = %d, want 1", msg.streamID)
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Errorf("payload = %q, want %q", msg.payload, payload)
	}
}

func TestChunkWriterReaderRoundTripMultiChunk(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := newChunkWriter(bw, 16) // force several continuation chunks

	payload := bytes.Repeat([]byte{0xAB}, 200)
	if err := cw.writeMessage(csidVideo, msgTypeVideo, 2, 500, payload); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cr := newChunkReader(bufio.NewReader(&buf))
	cr.readChunkSize = 16 // both sides agree on the 16-byte split
	msg, err := cr.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Fatalf("payload length = %d, want %d", len(msg.payload), len(payload))
	}
}

func TestChunkReaderSkipsSetChunkSizeAndAppliesIt(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	// Hand-encode a Set Chunk Size control message (type 1, csid 2).
	cw := newChunkWriter(bw, 128)
	body := []byte{0x00, 0x00, 0x10, 0x00} // 4096
	if err := cw.writeMessage(2, protoSetChunkSize, 0, 0, body); err != nil {
		t.Fatalf("write Set Chunk Size: %v", err)
	}
	cw.chunkSize = 4096 // the writer now splits at the size it announced

	payload := bytes.Repeat([]byte{0x11}, 300)
	if err := cw.writeMessage(csidAudio, msgTypeAudio, 1, 10, payload); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cr := newChunkReader(bufio.NewReader(&buf))
	msg, err := cr.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if cr.readChunkSize != 4096 {
		t.Errorf("readChunkSize = %d, want 4096", cr.readChunkSize)
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Fatalf("payload mismatch after Set Chunk Size")
	}
}

func TestChunkReaderInvokesOnPingForPingRequest(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := newChunkWriter(bw, 128)

	body := []byte{0x00, 0x06, 0x00, 0x00, 0x01, 0x02} // event=6 (PingRequest), ts=0x00000102
	if err := cw.writeMessage(2, msgTypeUserControl, 0, 0, body); err != nil {
		t.Fatalf("write Ping Request: %v", err)
	}
	// Follow it with a real message so readMessage has something to return.
	payload := []byte("trailing audio tag")
	if err := cw.writeMessage(csidAudio, msgTypeAudio, 1, 5, payload); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cr := newChunkReader(bufio.NewReader(&buf))
	var gotPingTS []byte
	cr.onPing = func(ts []byte) { gotPingTS = append([]byte(nil), ts...) }

	msg, err := cr.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Fatalf("payload mismatch after Ping Request, got %q", msg.payload)
	}
	if !bytes.Equal(gotPingTS, []byte{0x00, 0x00, 0x01, 0x02}) {
		t.Errorf("onPing timestamp = %v, want [0 0 1 2]", gotPingTS)
	}
}

func TestChunkWriterAnnouncesAndAppliesSetChunkSize(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := newChunkWriter(bw, defaultWriteChunkSize)

	if err := cw.writeSetChunkSize(4096); err != nil {
		t.Fatalf("writeSetChunkSize: %v", err)
	}
	if cw.chunkSize != 4096 {
		t.Fatalf("writer chunkSize = %d, want 4096", cw.chunkSize)
	}

	// A message well over the old 128-byte default must come through
	// as a single chunk now that both sides agree on 4096.
	payload := bytes.Repeat([]byte{0x22}, 300)
	if err := cw.writeMessage(csidVideo, msgTypeVideo, 1, 42, payload); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	cr := newChunkReader(bufio.NewReader(&buf))
	msg, err := cr.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if cr.readChunkSize != 4096 {
		t.Errorf("readChunkSize = %d, want 4096", cr.readChunkSize)
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Fatalf("payload mismatch after Set Chunk Size announcement")
	}
}

func TestChunkWriterRejectsExtendedTimestamp(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	cw := newChunkWriter(bw, 128)

	if err := cw.writeMessage(csidAudio, msgTypeAudio, 1, 0xFFFFFF, []byte{0x01}); err == nil {
		t.Fatal("expected error for out-of-range timestamp")
	}
}
