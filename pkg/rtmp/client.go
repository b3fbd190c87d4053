// Package rtmp implements a minimal RTMP publisher: handshake,
// connect/publish AMF0 command sequence, and chunked FLV-tag message
// delivery over a raw TCP socket.
package rtmp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meetecho/pushstream-relay/pkg/logger"
)

// Config mirrors pkg/config's RTMPConfig.
type Config struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ChunkSize      int
}

// Client publishes one FLV-tagged AV stream to one RTMP endpoint over
// one TCP socket.
type Client struct {
	cfg    Config
	target *target

	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	cw   *chunkWriter
	cr   *chunkReader

	writeMu  sync.Mutex
	txnID    float64
	streamID uint32

	// OnFatal, if set, is called once with the error that ended the
	// background read loop (server ping/control handling and response
	// detection): a closed or reset connection the publish-side
	// PublishAudio/PublishVideo path might not otherwise observe until
	// its next send attempt.
	OnFatal func(error)
}

// ConfigFromMillis builds a Config from the millisecond-denominated
// fields pkg/config.RTMPConfig carries (config files have no native
// duration syntax).
func ConfigFromMillis(connectTimeoutMs, sendTimeoutMs, chunkSize int) Config {
	return Config{
		ConnectTimeout: time.Duration(connectTimeoutMs) * time.Millisecond,
		SendTimeout:    time.Duration(sendTimeoutMs) * time.Millisecond,
		ChunkSize:      chunkSize,
	}
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect dials the RTMP server, performs the handshake, and issues
// the connect/releaseStream/FCPublish/createStream/publish command
// sequence. On return the client is ready for PublishAudio/PublishVideo.
func (c *Client) Connect(ctx context.Context, rtmpURL string) error {
	tgt, err := parseTarget(rtmpURL)
	if err != nil {
		return err
	}
	c.target = tgt

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(tgt.host, tgt.port))
	if err != nil {
		return fmt.Errorf("rtmp: dial: %w", err)
	}
	c.conn = conn

	// The handshake runs directly against the socket: chunkWriter needs
	// a bufio.Writer it can Flush explicitly, and wrapping the
	// handshake bytes in that same buffer before the first Flush would
	// leave them stuck in userspace.
	if err := conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		return fmt.Errorf("rtmp: set handshake deadline: %w", err)
	}
	if err := handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.br = bufio.NewReaderSize(conn, 65536)
	c.bw = bufio.NewWriterSize(conn, 65536)
	c.cw = newChunkWriter(c.bw, defaultWriteChunkSize)
	c.cr = newChunkReader(c.br)

	// The server starts out assuming defaultWriteChunkSize-byte chunks;
	// announce the real split point before publishSequence can write
	// any message (the connect command itself is small, but publish
	// tags are not) larger than that.
	if err := c.cw.writeSetChunkSize(c.cfg.ChunkSize); err != nil {
		conn.Close()
		return err
	}

	if err := c.publishSequence(); err != nil {
		conn.Close()
		return err
	}

	c.cr.onPing = c.sendPong
	go c.readLoop()

	logger.Default().DebugRTMP("rtmp publish started", "app", tgt.app, "stream", tgt.stream)
	return nil
}

// readLoop drains server-initiated messages for the life of the
// publish: Set Chunk Size, window ack size, set peer bandwidth, and
// acknowledgement messages are honored or ignored inside
// chunkReader.readMessage itself, Ping Requests are answered with a
// Ping Response via onPing, and any AMF command/data message this
// publish-only client doesn't otherwise act on is simply discarded.
// A read error (closed socket, peer reset) is reported once via
// OnFatal, the same path PublishAudio/PublishVideo use for send
// failures.
func (c *Client) readLoop() {
	for {
		if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			if c.OnFatal != nil {
				c.OnFatal(fmt.Errorf("rtmp: clear read deadline: %w", err))
			}
			return
		}
		if _, err := c.cr.readMessage(); err != nil {
			if c.OnFatal != nil {
				c.OnFatal(fmt.Errorf("rtmp: read loop: %w", err))
			}
			return
		}
	}
}

// sendPong replies to a server Ping Request with a Ping Response
// carrying the same 4-byte timestamp, per RTMP's User Control Message
// keep-alive contract.
func (c *Client) sendPong(ts []byte) {
	body := make([]byte, 6)
	body[0] = byte(userControlPingResponse >> 8)
	body[1] = byte(userControlPingResponse)
	copy(body[2:], ts)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return
	}
	if err := c.cw.writeMessage(csidControl, msgTypeUserControl, 0, 0, body); err != nil {
		logger.Default().DebugRTMP("failed to send ping response", "error", err)
	}
}

func (c *Client) publishSequence() error {
	if err := c.sendConnect(); err != nil {
		return err
	}
	if _, err := c.expectResult("_result"); err != nil {
		return fmt.Errorf("rtmp: connect: %w", err)
	}

	if err := c.sendCommand(csidControl, 0, "releaseStream", c.nextTxnID(), nil, c.target.stream); err != nil {
		return fmt.Errorf("rtmp: releaseStream: %w", err)
	}
	if err := c.sendCommand(csidControl, 0, "FCPublish", c.nextTxnID(), nil, c.target.stream); err != nil {
		return fmt.Errorf("rtmp: FCPublish: %w", err)
	}

	if err := c.sendCommand(csidControl, 0, "createStream", c.nextTxnID(), nil); err != nil {
		return fmt.Errorf("rtmp: createStream: %w", err)
	}
	result, err := c.expectResult("_result")
	if err != nil {
		return fmt.Errorf("rtmp: createStream: %w", err)
	}
	if len(result.values) < 1 {
		return fmt.Errorf("rtmp: createStream response missing stream id")
	}
	streamID, ok := result.values[0].(float64)
	if !ok {
		return fmt.Errorf("rtmp: createStream stream id is %T, want float64", result.values[0])
	}
	c.streamID = uint32(streamID)

	if err := c.sendCommand(csidControl, c.streamID, "publish", c.nextTxnID(), nil, c.target.stream, "live"); err != nil {
		return fmt.Errorf("rtmp: publish: %w", err)
	}

	return nil
}

func (c *Client) sendConnect() error {
	cmdObj := map[string]interface{}{
		"app":      c.target.app,
		"type":     "nonprivate",
		"flashVer": "FMLE/3.0 (compatible; pushstream-relay)",
		"tcUrl":    c.target.tcURL,
	}
	return c.sendCommand(csidControl, 0, "connect", c.nextTxnID(), cmdObj)
}

func (c *Client) sendCommand(csid int, streamID uint32, values ...interface{}) error {
	body, err := encodeCommand(values...)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return fmt.Errorf("rtmp: set write deadline: %w", err)
	}
	return c.cw.writeMessage(csid, msgTypeCommandAMF, streamID, 0, body)
}

func (c *Client) nextTxnID() float64 {
	c.txnID++
	return c.txnID
}

// expectResult blocks until a command response with the given name
// arrives, skipping any intervening onStatus/data messages this
// minimal client doesn't otherwise act on.
func (c *Client) expectResult(name string) (*commandResult, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		return nil, err
	}
	for {
		msg, err := c.cr.readMessage()
		if err != nil {
			return nil, err
		}
		if msg.typeID != msgTypeCommandAMF {
			continue
		}
		result, err := parseCommandResult(msg.payload)
		if err != nil {
			continue
		}
		if result.name == name || result.name == "_error" {
			if result.name == "_error" {
				return nil, fmt.Errorf("rtmp: server returned _error: %v", result.values)
			}
			return result, nil
		}
	}
}

// PublishAudio sends one FLV audio tag body as an RTMP audio message.
func (c *Client) PublishAudio(timestampMs uint32, body []byte) error {
	return c.publishTag(csidAudio, msgTypeAudio, timestampMs, body)
}

// PublishVideo sends one FLV video tag body as an RTMP video message.
func (c *Client) PublishVideo(timestampMs uint32, body []byte) error {
	return c.publishTag(csidVideo, msgTypeVideo, timestampMs, body)
}

func (c *Client) publishTag(csid int, typeID uint8, timestampMs uint32, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return fmt.Errorf("rtmp: set write deadline: %w", err)
	}
	if err := c.cw.writeMessage(csid, typeID, c.streamID, timestampMs, body); err != nil {
		return fmt.Errorf("rtmp: publish tag: %w", err)
	}
	logger.Default().DebugRTMPChunk(csid, typeID, len(body))
	return nil
}

// Stop issues FCUnpublish/deleteStream and closes the socket.
func (c *Client) Stop() error {
	_ = c.sendCommand(csidControl, 0, "FCUnpublish", c.nextTxnID(), nil, c.target.stream)
	_ = c.sendCommand(csidControl, 0, "deleteStream", c.nextTxnID(), nil, float64(c.streamID))
	return c.Close()
}

// Close closes the underlying TCP connection without sending any
// further RTMP messages.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
