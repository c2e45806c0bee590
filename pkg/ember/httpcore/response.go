package httpcore

import (
	"strconv"
)

// statusText mirrors the status reason-phrases ember actually sends; the
// wire format ember writes omits the phrase (spec-compatible "HTTP/1.1
// <code>\r\n" status line) but callers formatting bodies or logs want it.
var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the RFC 7231 reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// ResponseWriter builds a single HTTP/1.1 response's wire bytes: status
// line, headers (insertion order preserved, never deduplicated — matching
// spec's explicit non-goal), Content-Length/Connection/Date, and body
// (suppressed for HEAD requests while the advertised Content-Length still
// reflects the real body length, per RFC 7231 §4.3.2).
type ResponseWriter struct {
	Status        int
	Headers       Header
	KeepAlive     bool
	IsHeadRequest bool
	dateFn        func() string
}

// NewResponseWriter creates a writer that stamps Date headers from dateFn
// (normally DateCache.Get).
func NewResponseWriter(dateFn func() string) *ResponseWriter {
	return &ResponseWriter{Status: 200, dateFn: dateFn}
}

// SetHeader appends a header. Duplicate names are never merged or
// overwritten — every SetHeader call adds another wire header line, which
// is the spec's explicit non-goal-compatible behavior (callers that want
// "set" semantics must not call SetHeader twice for the same name).
func (w *ResponseWriter) SetHeader(name, value string) {
	w.Headers = append(w.Headers, HeaderField{Name: name, Value: value})
}

// Build serializes the status line, headers, and body into a single
// contiguous byte slice allocated from arena, ready for one Write call.
// Content-Length is taken from body's length before any HEAD suppression,
// since it must always reflect what the method would have returned.
func (w *ResponseWriter) Build(arena interface {
	Alloc(n int) []byte
}, body []byte) []byte {
	originalLen := len(body)
	if w.IsHeadRequest {
		body = nil
	}

	connection := valueClose
	if w.KeepAlive {
		connection = valueKeepAlive
	}

	size := len("HTTP/1.1 ") + 3 + len("\r\n")
	size += len("Date: ") + 29 + len("\r\n")
	for _, h := range w.Headers {
		size += len(h.Name) + 2 + len(h.Value) + 2
	}
	size += len("Content-Length: ") + 20 + len("\r\n")
	size += len("Connection: ") + len(connection) + len("\r\n")
	size += len("\r\n")
	size += len(body)

	buf := arena.Alloc(size)
	pos := 0
	pos += copy(buf[pos:], "HTTP/1.1 ")
	pos += copy(buf[pos:], strconv.Itoa(w.Status))
	pos += copy(buf[pos:], "\r\n")

	pos += copy(buf[pos:], "Date: ")
	pos += copy(buf[pos:], w.dateFn())
	pos += copy(buf[pos:], "\r\n")

	for _, h := range w.Headers {
		pos += copy(buf[pos:], h.Name)
		pos += copy(buf[pos:], ": ")
		pos += copy(buf[pos:], h.Value)
		pos += copy(buf[pos:], "\r\n")
	}

	pos += copy(buf[pos:], "Content-Length: ")
	pos += copy(buf[pos:], strconv.Itoa(originalLen))
	pos += copy(buf[pos:], "\r\n")

	pos += copy(buf[pos:], "Connection: ")
	pos += copy(buf[pos:], connection)
	pos += copy(buf[pos:], "\r\n")

	pos += copy(buf[pos:], "\r\n")
	pos += copy(buf[pos:], body)

	return buf[:pos]
}

// BuildError serializes a minimal, allocation-light error response used
// when the normal reply path itself fails (e.g. arena exhaustion) or for
// protocol-level rejections (400/413) raised before a Req/Res pair exists.
func BuildError(status int, dateFn func() string) []byte {
	text := statusText[status]
	if text == "" {
		text = "Error"
	}
	body := text
	head := "HTTP/1.1 " + strconv.Itoa(status) + " " + text + "\r\n" +
		"Date: " + dateFn() + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body
	return []byte(head)
}
