package httpcore

import "bytes"

// ParseOutcome reports what Parser.Feed accomplished with the bytes it was
// given.
type ParseOutcome int

const (
	// Incomplete means more bytes are needed before headers are complete.
	Incomplete ParseOutcome = iota
	// Paused means the request line and headers parsed successfully; the
	// parser has yielded control at the headers-complete point so the
	// dispatcher can decide how to receive the body before any body byte
	// is consumed.
	Paused
	// Error means the bytes fed so far are malformed; Parser.Err holds
	// the specific error.
	Error
	// Overflow means a configured size limit (request line, header
	// count, headers size, URI length) was exceeded.
	Overflow
)

// Parser is an incremental, pause-capable HTTP/1.1 request-line-and-headers
// parser. Feed may be called repeatedly as bytes arrive off the wire; it
// never blocks and never reads past the blank line terminating the headers
// section, so the caller controls exactly when (and whether) body bytes
// are consumed.
type Parser struct {
	buf     []byte
	Result  ParsedRequest
	Err     error
	done    bool
}

// NewParser returns a parser ready to accept the first request on a
// connection (or the next request after Reset, for pipelined keep-alive
// connections).
func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, MaxRequestLineSize+MaxHeadersSize)}
}

// Reset prepares the parser to parse another request, e.g. after a
// keep-alive response completes.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.Result = ParsedRequest{}
	p.Err = nil
	p.done = false
}

// Feed appends data to the parser's internal buffer and attempts to
// complete the request line and headers. It returns the number of bytes
// from data that were consumed (always len(data) unless Paused, in which
// case any bytes past the terminating blank line are NOT consumed and
// remain the caller's responsibility — typically the start of the body or
// of the next pipelined request).
func (p *Parser) Feed(data []byte) (consumed int, outcome ParseOutcome) {
	if p.done {
		return 0, Paused
	}

	p.buf = append(p.buf, data...)

	idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if idx == -1 {
		if len(p.buf) > MaxRequestLineSize+MaxHeadersSize {
			p.Err = ErrHeadersTooLarge
			return len(data), Overflow
		}
		return len(data), Incomplete
	}

	headersEnd := idx + 4
	headerBlock := p.buf[:headersEnd]

	linePos, err := p.parseRequestLine(headerBlock)
	if err != nil {
		p.Err = err
		p.done = true
		if isOversizedErr(err) {
			return len(data), Overflow
		}
		return len(data), Error
	}

	if err := p.parseHeaders(headerBlock[linePos:]); err != nil {
		p.Err = err
		p.done = true
		if isOversizedErr(err) {
			return len(data), Overflow
		}
		return len(data), Error
	}

	p.done = true

	// Bytes belonging to the headers block came out of `data`; anything
	// in data past that boundary was not consumed by header parsing.
	totalBeforeFeed := len(p.buf) - len(data)
	consumedFromData := headersEnd - totalBeforeFeed
	if consumedFromData > len(data) {
		consumedFromData = len(data)
	}
	if consumedFromData < 0 {
		consumedFromData = 0
	}
	return consumedFromData, Paused
}

// Buffered returns the bytes fed so far but not yet attributed to the
// parsed headers block (i.e. the start of the body, or of the next
// pipelined request, already sitting in the parser's internal buffer).
func (p *Parser) Buffered() []byte {
	idx := bytes.Index(p.buf, []byte("\r\n\r\n"))
	if idx == -1 {
		return nil
	}
	return p.buf[idx+4:]
}

// isOversizedErr reports whether err is one of the configured size-limit
// violations that the Oversized response class (413 + Connection: close)
// covers, as opposed to a malformed request Error would reply 400 to.
func isOversizedErr(err error) bool {
	switch err {
	case ErrRequestLineTooLarge, ErrURITooLong, ErrTooManyHeaders:
		return true
	default:
		return false
	}
}

func (p *Parser) parseRequestLine(buf []byte) (int, error) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd == -1 {
		return 0, ErrInvalidRequestLine
	}
	if lineEnd > MaxRequestLineSize {
		return 0, ErrRequestLineTooLarge
	}

	line := buf[:lineEnd]

	spaceIdx := bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}
	methodBytes := line[:spaceIdx]
	p.Result.Method = ParseMethod(methodBytes)
	p.Result.RawMethod = string(methodBytes)
	if p.Result.Method == MethodUnknown {
		return 0, ErrInvalidMethod
	}
	p.Result.IsHeadRequest = p.Result.Method == MethodHEAD

	line = line[spaceIdx+1:]
	spaceIdx = bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}
	uri := line[:spaceIdx]
	if len(uri) > MaxURILength {
		return 0, ErrURITooLong
	}
	if len(uri) == 0 || (uri[0] != '/' && uri[0] != '*') {
		return 0, ErrInvalidPath
	}

	if q := bytes.IndexByte(uri, '?'); q != -1 {
		p.Result.Path = string(uri[:q])
		p.Result.Query = string(uri[q+1:])
	} else {
		p.Result.Path = string(uri)
	}

	proto := line[spaceIdx+1:]
	p.Result.Proto = string(proto)
	if !bytes.Equal(proto, []byte(ProtoHTTP11)) && !bytes.Equal(proto, []byte(ProtoHTTP10)) {
		return 0, ErrInvalidProtocol
	}

	return lineEnd + 2, nil
}

func (p *Parser) parseHeaders(buf []byte) error {
	pos := 0
	var hasCL, hasTE, hasHost bool
	var clValue int64 = -1
	count := 0

	for pos < len(buf) {
		if buf[pos] == '\r' && pos+1 < len(buf) && buf[pos+1] == '\n' {
			break
		}

		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd == -1 {
			return ErrInvalidHeader
		}
		lineEnd += pos
		line := buf[pos:lineEnd]

		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			return ErrInvalidHeader
		}
		if colonIdx > 0 && (line[colonIdx-1] == ' ' || line[colonIdx-1] == '\t') {
			return ErrInvalidHeader
		}

		name := line[:colonIdx]
		if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
			return ErrInvalidHeader
		}
		value := trimOWS(line[colonIdx+1:])

		count++
		if count > MaxHeaderCount {
			return ErrTooManyHeaders
		}

		nameStr := string(name)
		valueStr := string(value)
		p.Result.Headers = append(p.Result.Headers, HeaderField{Name: nameStr, Value: valueStr})

		switch {
		case equalFold(nameStr, HeaderContentLength):
			n, err := parseContentLength(value)
			if err != nil {
				return err
			}
			if hasCL && clValue != n {
				return ErrSmugglingDuplicateCL
			}
			hasCL = true
			clValue = n
			p.Result.ContentLength = n
			p.Result.HasContentLength = true

		case equalFold(nameStr, HeaderTransferEncoding):
			hasTE = true
			if equalFold(valueStr, valueChunked) {
				p.Result.Chunked = true
			}

		case equalFold(nameStr, HeaderConnection):
			if equalFold(valueStr, valueClose) {
				p.Result.Close = true
			}

		case equalFold(nameStr, HeaderHost):
			if hasHost {
				return ErrInvalidHeader
			}
			hasHost = true
		}

		pos = lineEnd + 2
	}

	if hasCL && hasTE {
		return ErrSmugglingCLTE
	}
	return nil
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return -1, ErrInvalidContentLength
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return -1, ErrInvalidContentLength
		}
	}
	return n, nil
}
