package websocket

import (
	"bufio"
	"encoding/binary"
	"io"
)

// frameReader parses frames off an io.Reader, reusing a header scratch
// buffer and a growable payload buffer across calls.
type frameReader struct {
	r          io.Reader
	headerBuf  [MaxFrameHeaderSize]byte
	payloadBuf []byte
}

func newFrameReader(r io.Reader, bufSize int) *frameReader {
	return &frameReader{r: r, payloadBuf: make([]byte, 0, bufSize)}
}

// readFrame reads and parses the next frame. The returned Frame.Payload
// aliases the reader's internal buffer and is only valid until the next
// readFrame call.
func (fr *frameReader) readFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.headerBuf[:2]); err != nil {
		return nil, err
	}

	frame := &Frame{}

	b0 := fr.headerBuf[0]
	frame.Fin = b0&finalBit != 0
	frame.RSV1 = b0&rsv1Bit != 0
	frame.RSV2 = b0&rsv2Bit != 0
	frame.RSV3 = b0&rsv3Bit != 0
	frame.Opcode = b0 & opcodeMask

	b1 := fr.headerBuf[1]
	frame.Masked = b1&maskBit != 0
	payloadLen := uint64(b1 & lengthMask)

	if frame.Opcode > 0xA || (frame.Opcode > 0x2 && frame.Opcode < 0x8) {
		return nil, ErrInvalidOpcode
	}
	if frame.IsControl() {
		if !frame.Fin {
			return nil, ErrFragmentedControl
		}
		if payloadLen > MaxControlFramePayload {
			return nil, ErrInvalidControlFrame
		}
	}
	if frame.RSV1 || frame.RSV2 || frame.RSV3 {
		return nil, ErrReservedBitsSet
	}

	headerSize := 2
	switch payloadLen {
	case 126:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[2:4]); err != nil {
			return nil, err
		}
		frame.Length = uint64(binary.BigEndian.Uint16(fr.headerBuf[2:4]))
		headerSize = 4
	case 127:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[2:10]); err != nil {
			return nil, err
		}
		frame.Length = binary.BigEndian.Uint64(fr.headerBuf[2:10])
		headerSize = 10
		if frame.Length&(1<<63) != 0 {
			return nil, ErrFrameTooLarge
		}
	default:
		frame.Length = payloadLen
	}

	// Servers only ever receive masked frames (RFC 6455 5.1); the client
	// mask-required check lives in Conn.ReadMessage, which has the
	// is-server context this reader doesn't.
	if frame.Masked {
		if _, err := io.ReadFull(fr.r, fr.headerBuf[headerSize:headerSize+4]); err != nil {
			return nil, err
		}
		copy(frame.MaskKey[:], fr.headerBuf[headerSize:headerSize+4])
	}

	if frame.Length > 0 {
		if uint64(cap(fr.payloadBuf)) < frame.Length {
			fr.payloadBuf = make([]byte, frame.Length)
		} else {
			fr.payloadBuf = fr.payloadBuf[:frame.Length]
		}
		if _, err := io.ReadFull(fr.r, fr.payloadBuf); err != nil {
			return nil, err
		}
		if frame.Masked {
			maskBytes(fr.payloadBuf, frame.MaskKey)
		}
		frame.Payload = fr.payloadBuf
	}

	return frame, nil
}

// frameWriter writes frames to a buffered io.Writer, server side: frames
// are always unmasked (RFC 6455 5.1 forbids the server from masking).
// Each write flushes immediately — WebSocket frames are each a complete
// protocol unit, so there is nothing to gain by batching across them, only
// the header+payload pair's own two Write calls to coalesce.
type frameWriter struct {
	w         *bufio.Writer
	headerBuf [MaxFrameHeaderSize]byte
}

func newFrameWriter(w io.Writer, bufSize int) *frameWriter {
	return &frameWriter{w: bufio.NewWriterSize(w, bufSize)}
}

func (fw *frameWriter) writeFrame(opcode byte, fin bool, payload []byte) error {
	b0 := opcode
	if fin {
		b0 |= finalBit
	}
	fw.headerBuf[0] = b0

	payloadLen := uint64(len(payload))
	headerSize := 2

	switch {
	case payloadLen <= 125:
		fw.headerBuf[1] = byte(payloadLen)
	case payloadLen <= 0xFFFF:
		fw.headerBuf[1] = 126
		binary.BigEndian.PutUint16(fw.headerBuf[2:4], uint16(payloadLen))
		headerSize = 4
	default:
		fw.headerBuf[1] = 127
		binary.BigEndian.PutUint64(fw.headerBuf[2:10], payloadLen)
		headerSize = 10
	}

	if _, err := fw.w.Write(fw.headerBuf[:headerSize]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := fw.w.Write(payload); err != nil {
			return err
		}
	}
	return fw.w.Flush()
}

func (fw *frameWriter) writeControlFrame(opcode byte, payload []byte) error {
	if len(payload) > MaxControlFramePayload {
		return ErrInvalidControlFrame
	}
	if opcode < OpcodeClose || opcode > OpcodePong {
		return ErrInvalidOpcode
	}
	return fw.writeFrame(opcode, true, payload)
}

func (fw *frameWriter) writeClose(code uint16, reason string) error {
	var payload []byte
	if code != 0 {
		payload = make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload, code)
		copy(payload[2:], reason)
	}
	return fw.writeControlFrame(OpcodeClose, payload)
}
