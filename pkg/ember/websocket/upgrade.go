package websocket

import (
	"bytes"
	"errors"
	"net"
	"strings"

	"github.com/watt-toolkit/ember/pkg/ember/server"
)

var (
	ErrNotWebSocket        = errors.New("websocket: not a websocket handshake")
	ErrBadWebSocketKey     = errors.New("websocket: invalid Sec-WebSocket-Key")
	ErrBadWebSocketVersion = errors.New("websocket: unsupported Sec-WebSocket-Version")
)

// Upgrader performs RFC 6455 server handshakes over ember's
// server.Res.Takeover, the same role shockwave's websocket.Upgrader plays
// over net/http's Hijacker.
type Upgrader struct {
	// CheckOrigin reports whether the request's Origin header is
	// acceptable. Nil skips origin validation (fine for same-origin
	// deployments, insecure otherwise).
	CheckOrigin func(req *server.Req) bool

	// Subprotocols lists supported subprotocols in order of preference.
	Subprotocols []string

	// ReadBufferSize and WriteBufferSize size the Conn's I/O buffers.
	// Zero means 4096.
	ReadBufferSize  int
	WriteBufferSize int
}

// IsUpgradeRequest reports whether req carries the headers RFC 6455
// Section 4.2.1 requires for a WebSocket handshake, so a router can route
// upgrade and non-upgrade traffic to the same path if needed.
func IsUpgradeRequest(req *server.Req) bool {
	return req.Method() == "GET" &&
		headerContains(req, "Connection", "upgrade") &&
		headerContains(req, "Upgrade", "websocket") &&
		req.Header("Sec-WebSocket-Version") == "13" &&
		req.Header("Sec-WebSocket-Key") != ""
}

// Upgrade validates the handshake, writes the 101 Switching Protocols
// response directly to the taken-over socket, and returns a Conn ready
// for ReadMessage/WriteMessage. RFC 6455 Section 4: Opening Handshake.
func (u *Upgrader) Upgrade(req *server.Req, res *server.Res) (*Conn, error) {
	if req.Method() != "GET" {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(405, []byte("Method Not Allowed"))
		return nil, ErrNotWebSocket
	}
	if !headerContains(req, "Connection", "upgrade") {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(400, []byte("Bad Request: missing Connection: upgrade"))
		return nil, ErrNotWebSocket
	}
	if !headerContains(req, "Upgrade", "websocket") {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(400, []byte("Bad Request: missing Upgrade: websocket"))
		return nil, ErrNotWebSocket
	}
	if req.Header("Sec-WebSocket-Version") != "13" {
		res.SetHeader("Sec-WebSocket-Version", "13")
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(400, []byte("Bad Request: unsupported WebSocket version"))
		return nil, ErrBadWebSocketVersion
	}
	wsKey := req.Header("Sec-WebSocket-Key")
	if wsKey == "" {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(400, []byte("Bad Request: missing Sec-WebSocket-Key"))
		return nil, ErrBadWebSocketKey
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(req) {
		res.SetHeader("Content-Type", "text/plain")
		res.Reply(403, []byte("Forbidden: origin not allowed"))
		return nil, ErrNotWebSocket
	}

	var subprotocol string
	if len(u.Subprotocols) > 0 {
		subprotocol = selectSubprotocol(headerValues(req, "Sec-WebSocket-Protocol"), u.Subprotocols)
	}

	netConn, buffered, err := res.Takeover()
	if err != nil {
		return nil, err
	}

	if writeErr := writeUpgradeResponse(netConn, wsKey, subprotocol); writeErr != nil {
		netConn.Close()
		return nil, writeErr
	}

	readBufSize := u.ReadBufferSize
	if readBufSize == 0 {
		readBufSize = 4096
	}
	writeBufSize := u.WriteBufferSize
	if writeBufSize == 0 {
		writeBufSize = 4096
	}

	return newConn(netConn, buffered, readBufSize, writeBufSize, subprotocol), nil
}

func writeUpgradeResponse(nc net.Conn, wsKey, subprotocol string) error {
	acceptKey := ComputeAcceptKey(wsKey)

	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(acceptKey)
	b.WriteString("\r\n")
	if subprotocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(subprotocol)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	_, err := nc.Write(b.Bytes())
	return err
}

func headerContains(req *server.Req, name, value string) bool {
	for _, v := range headerValues(req, name) {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func headerValues(req *server.Req, name string) []string {
	raw := req.Header(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func selectSubprotocol(clientProtos, serverProtos []string) string {
	for _, c := range clientProtos {
		for _, s := range serverProtos {
			if c == s {
				return c
			}
		}
	}
	return ""
}
