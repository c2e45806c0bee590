package websocket

import (
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// MessageType identifies a complete WebSocket message's opcode.
type MessageType int

const (
	TextMessage  MessageType = OpcodeText
	BinaryMessage MessageType = OpcodeBinary
	CloseMessage MessageType = OpcodeClose
	PingMessage  MessageType = OpcodePing
	PongMessage  MessageType = OpcodePong
)

// Conn is a server-side WebSocket connection obtained from
// Upgrader.Upgrade. It owns the raw net.Conn handed off by
// server.Res.Takeover for the rest of the connection's life.
type Conn struct {
	conn        net.Conn
	subprotocol string

	reader *frameReader
	writer *frameWriter

	writeMu sync.Mutex

	readMu          sync.Mutex
	readMessage     []byte
	readMessageType MessageType

	closeOnce sync.Once
	closeSent bool
	closeErr  error

	pingHandler func(appData string) error
	pongHandler func(appData string) error

	maxMessageSize int64
}

func newConn(nc net.Conn, src io.Reader, readBufSize, writeBufSize int, subprotocol string) *Conn {
	c := &Conn{
		conn:           nc,
		subprotocol:    subprotocol,
		reader:         newFrameReader(src, readBufSize),
		writer:         newFrameWriter(nc, writeBufSize),
		maxMessageSize: 32 * 1024 * 1024,
	}
	c.pingHandler = c.defaultPingHandler
	c.pongHandler = func(string) error { return nil }
	return c
}

// ReadMessage reads the next complete data message, transparently
// reassembling fragmented frames and answering Ping/Close control frames
// along the way.
func (c *Conn) ReadMessage() (MessageType, []byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		frame, err := c.reader.readFrame()
		if err != nil {
			return 0, nil, err
		}

		if !frame.Masked {
			c.closeLocked()
			return 0, nil, ErrMaskRequired
		}

		if frame.IsControl() {
			if err := c.handleControlFrame(frame); err != nil {
				return 0, nil, err
			}
			continue
		}

		if frame.Opcode == OpcodeContinuation {
			if c.readMessageType == 0 {
				c.closeLocked()
				return 0, nil, ErrProtocolViolation
			}
		} else {
			if c.readMessageType != 0 {
				c.closeLocked()
				return 0, nil, ErrProtocolViolation
			}
			c.readMessageType = MessageType(frame.Opcode)
			c.readMessage = c.readMessage[:0]
		}

		if len(frame.Payload) > 0 {
			if int64(len(c.readMessage)+len(frame.Payload)) > c.maxMessageSize {
				c.closeLocked()
				return 0, nil, ErrMessageTooLarge
			}
			c.readMessage = append(c.readMessage, frame.Payload...)
		}

		if !frame.Fin {
			continue
		}

		msgType := c.readMessageType
		c.readMessageType = 0

		if msgType == TextMessage && !utf8.Valid(c.readMessage) {
			c.closeLocked()
			return 0, nil, ErrInvalidUTF8
		}

		result := make([]byte, len(c.readMessage))
		copy(result, c.readMessage)
		return msgType, result, nil
	}
}

func (c *Conn) handleControlFrame(frame *Frame) error {
	switch frame.Opcode {
	case OpcodePing:
		return c.pingHandler(string(frame.Payload))
	case OpcodePong:
		return c.pongHandler(string(frame.Payload))
	case OpcodeClose:
		var code uint16
		var reason string
		if len(frame.Payload) >= 2 {
			code = uint16(frame.Payload[0])<<8 | uint16(frame.Payload[1])
			if len(frame.Payload) > 2 {
				reason = string(frame.Payload[2:])
				if !utf8.ValidString(reason) {
					return ErrInvalidUTF8
				}
			}
			if !isValidCloseCode(code) {
				return ErrInvalidCloseCode
			}
		}
		c.writeMu.Lock()
		if !c.closeSent {
			c.writer.writeControlFrame(OpcodeClose, frame.Payload)
			c.closeSent = true
		}
		c.writeMu.Unlock()
		return io.EOF
	}
	return nil
}

// WriteMessage writes a complete, unfragmented text or binary message.
func (c *Conn) WriteMessage(messageType MessageType, data []byte) error {
	if messageType == TextMessage && !utf8.Valid(data) {
		return ErrInvalidUTF8
	}
	var opcode byte
	switch messageType {
	case TextMessage:
		opcode = OpcodeText
	case BinaryMessage:
		opcode = OpcodeBinary
	default:
		return ErrInvalidOpcode
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.writeFrame(opcode, true, data)
}

// WriteControl writes a Ping, Pong, or Close control frame.
func (c *Conn) WriteControl(messageType MessageType, data []byte) error {
	var opcode byte
	switch messageType {
	case CloseMessage:
		opcode = OpcodeClose
	case PingMessage:
		opcode = OpcodePing
	case PongMessage:
		opcode = OpcodePong
	default:
		return ErrInvalidOpcode
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if opcode == OpcodeClose {
		c.closeSent = true
	}
	return c.writer.writeControlFrame(opcode, data)
}

func (c *Conn) WritePing(data []byte) error { return c.WriteControl(PingMessage, data) }
func (c *Conn) WritePong(data []byte) error { return c.WriteControl(PongMessage, data) }

// Close sends a normal-closure Close frame (if one hasn't already been
// sent) and closes the underlying net.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		if !c.closeSent {
			c.writer.writeClose(CloseNormalClosure, "")
			c.closeSent = true
		}
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closeLocked is Close without re-taking readMu, for protocol-violation
// paths already holding it.
func (c *Conn) closeLocked() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		if !c.closeSent {
			c.writer.writeClose(CloseProtocolError, "")
			c.closeSent = true
		}
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
}

// CloseWithCode sends a Close frame carrying a specific status code and
// reason before closing the connection.
func (c *Conn) CloseWithCode(code uint16, reason string) error {
	if !isValidCloseCode(code) {
		return ErrInvalidCloseCode
	}
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.writer.writeClose(code, reason)
		c.closeSent = true
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// SetReadDeadline sets the read deadline on the underlying net.Conn.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline on the underlying net.Conn.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// SetPingHandler overrides the default (auto-Pong) Ping handler.
func (c *Conn) SetPingHandler(handler func(appData string) error) { c.pingHandler = handler }

// SetPongHandler overrides the default (no-op) Pong handler.
func (c *Conn) SetPongHandler(handler func(appData string) error) { c.pongHandler = handler }

func (c *Conn) defaultPingHandler(appData string) error {
	return c.WritePong([]byte(appData))
}

// SetMaxMessageSize caps assembled message size; the default is 32MB.
func (c *Conn) SetMaxMessageSize(size int64) { c.maxMessageSize = size }

// Subprotocol returns the negotiated subprotocol, or "" if none was.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// LocalAddr returns the local network address of the underlying socket.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address of the underlying socket.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
