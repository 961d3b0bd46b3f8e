package message

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/uri"
)

// Deadliner is satisfied by net.Conn; a Reader that isn't backed by a
// real connection (e.g. in tests, reading from a bytes.Buffer) may pass
// nil, in which case no deadline is applied.
type Deadliner interface {
	SetReadDeadline(time.Time) error
}

// Reader parses HTTP/1.1 requests (and, for CGI response validation,
// statuses) from a buffered byte source, applying SPEC_FULL.md §5's
// per-read deadline whenever the source is a real connection.
type Reader struct {
	br   *bufio.Reader
	conn Deadliner
}

// NewReader wraps r. conn may be nil.
func NewReader(r io.Reader, conn Deadliner) *Reader {
	return &Reader{br: bufio.NewReader(r), conn: conn}
}

func (r *Reader) armDeadline() {
	if r.conn != nil {
		r.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errorsAs(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// errorsAs is a tiny local shim so this file only needs one stdlib
// import for the net.Error check.
func errorsAs(err error, target *net.Error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}

// readLine reads one CRLF- or LF-terminated line, stripped of its
// terminator, honoring the read deadline and MaxHeaderLineLength.
func (r *Reader) readLine() (string, error) {
	r.armDeadline()
	line, err := r.br.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimedOut
		}
		if err == io.EOF {
			if line == "" {
				return "", ErrEndOfStream
			}
			// Fall through: treat a final unterminated line as-is; the
			// caller decides whether that's acceptable.
		} else {
			return "", err
		}
	}
	if len(line) > MaxHeaderLineLength {
		return "", ErrHeaderTooLong
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Request is the parsed form of one client request.
type Request struct {
	Method    string
	RawTarget string
	URI       *uri.URI
	Version   Version
	Header    *headers.Store
	Body      Body
	Chunked   bool
}

// ReadRequest parses one request. A 100-continue Expect header, if
// valid, is answered immediately on w before this function returns (per
// §4.3.1); w may be nil if the caller knows Expect can't appear (tests).
func (r *Reader) ReadRequest(w *Writer) (*Request, error) {
	method, rawTarget, versionTok, err := r.readRequestLine()
	if err != nil {
		return nil, err
	}
	version, ok := ParseVersion(versionTok)
	if !ok {
		return nil, ErrUnsupportedVersion
	}
	if !Methods[method] {
		return nil, ErrUnsupportedMethod
	}
	if len(rawTarget) > MaxURILength {
		return nil, ErrURITooLong
	}
	u, err := uri.Parse(method, rawTarget)
	if err != nil {
		return nil, ErrInvalidURI
	}

	h, err := r.readHeaders()
	if err != nil {
		return nil, err
	}

	if expect, ok := h.Get("Expect"); ok {
		if len(expect) != 1 || !strings.EqualFold(expect[0], "100-continue") {
			return nil, ErrInvalidExpectHeader
		}
		if w != nil {
			if err := w.WriteStatusOnly(version, 100); err != nil {
				return nil, err
			}
		}
	}

	if version == HTTP11 && !h.Contains("Host") {
		return nil, ErrNoHostHeader
	}

	body, err := r.readBody(method, h)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:    method,
		RawTarget: rawTarget,
		URI:       u,
		Version:   version,
		Header:    h,
		Body:      body,
		Chunked:   h.Contains("Transfer-Encoding"),
	}, nil
}

func (r *Reader) readRequestLine() (method, target, version string, err error) {
	line, err := r.readLine()
	if err != nil {
		return "", "", "", err
	}
	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return "", "", "", ErrInvalidURI
	}
	rest := line[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 < 0 {
		return "", "", "", ErrInvalidURI
	}
	return line[:sp1], rest[:sp2], rest[sp2+1:], nil
}

// readHeaders reads header lines up to the blank line terminator.
func (r *Reader) readHeaders() (*headers.Store, error) {
	h := headers.New()
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, ErrInvalidHeader
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.Trim(line[colon+1:], " \t")
		if !h.Set(name, []string{value}) {
			return nil, ErrInvalidHeader
		}
	}
	return h, nil
}

// readBody selects and reads the request body per §4.3.1.
func (r *Reader) readBody(method string, h *headers.Store) (Body, error) {
	if te, ok := h.Get("Transfer-Encoding"); ok {
		for _, tok := range te {
			if !strings.EqualFold(tok, "chunked") {
				return Body{}, ErrUnsupportedTransferEncoding
			}
		}
		b, trailer, err := r.readChunked()
		if err != nil {
			return Body{}, err
		}
		for _, name := range trailer.Names() {
			vs, _ := trailer.Get(name)
			h.Set(name, vs)
		}
		return NewBytesBody(b), nil
	}
	if cl, ok := h.Get("Content-Length"); ok && len(cl) > 0 {
		n, err := strconv.ParseInt(cl[0], 10, 64)
		if err != nil || n < 0 {
			return Body{}, ErrInvalidBody
		}
		limit := int64(MaxBodyOther)
		if method == "GET" {
			limit = MaxBodyGET
		}
		if n > limit {
			return Body{}, ErrBodyTooLarge
		}
		buf := make([]byte, n)
		r.armDeadline()
		if _, err := io.ReadFull(r.br, buf); err != nil {
			if isTimeout(err) {
				return Body{}, ErrTimedOut
			}
			return Body{}, err
		}
		return NewBytesBody(buf), nil
	}
	return NoBody, nil
}

// readChunked reads a chunked body per §4.3.1, returning the decoded
// bytes and the trailer header block (never requiring Host).
func (r *Reader) readChunked() ([]byte, *headers.Store, error) {
	var out []byte
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, nil, err
		}
		sizeTok := line
		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			sizeTok = line[:semi]
			if !validChunkExtensions(line[semi+1:]) {
				return nil, nil, ErrInvalidBody
			}
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeTok), 16, 64)
		if err != nil || size < 0 {
			return nil, nil, ErrInvalidBody
		}
		if size == 0 {
			trailer, err := r.readHeaders()
			if err != nil {
				return nil, nil, err
			}
			return out, trailer, nil
		}
		chunk := make([]byte, size)
		r.armDeadline()
		if _, err := io.ReadFull(r.br, chunk); err != nil {
			if isTimeout(err) {
				return nil, nil, ErrTimedOut
			}
			return nil, nil, err
		}
		out = append(out, chunk...)
		term, err := r.readLine()
		if err != nil {
			return nil, nil, err
		}
		if term != "" {
			return nil, nil, ErrInvalidBody
		}
	}
}

// validChunkExtensions checks that each ";name=value" or ";name" piece
// of a chunk-extension list is made of RFC 7230 tokens.
func validChunkExtensions(s string) bool {
	for _, ext := range strings.Split(s, ";") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		name, value, hasValue := strings.Cut(ext, "=")
		if !isChunkToken(name) {
			return false
		}
		if hasValue && !isChunkToken(strings.Trim(value, "\"")) {
			return false
		}
	}
	return true
}

func isChunkToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		ok := (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') ||
			strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0
		if !ok {
			return false
		}
	}
	return true
}

// Status groups the parts of a parsed response (status-line, headers,
// body). ReadResponseHead returns these parts as separate values rather
// than as a Status.
type Status struct {
	Version Version
	Code    int
	Header  *headers.Store
	Body    Body
}

// ReadResponseHead parses a status-line and header block only; it makes
// no body framing decisions, and the caller reads whatever follows the
// head (see Buffered).
func (r *Reader) ReadResponseHead() (Version, int, *headers.Store, error) {
	line, err := r.readLine()
	if err != nil {
		return 0, 0, nil, err
	}
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return 0, 0, nil, ErrInvalidStatusCode
	}
	version, ok := ParseVersion(line[:sp])
	if !ok {
		return 0, 0, nil, ErrUnsupportedVersion
	}
	rest := strings.TrimLeft(line[sp+1:], " ")
	if len(rest) < 3 {
		return 0, 0, nil, ErrInvalidStatusCode
	}
	codeTok := rest[:3]
	code, err := strconv.Atoi(codeTok)
	if err != nil {
		return 0, 0, nil, ErrInvalidStatusCode
	}
	h, err := r.readHeaders()
	if err != nil {
		return 0, 0, nil, err
	}
	return version, code, h, nil
}

// Buffered exposes the underlying bufio.Reader for callers (the CGI
// adapter) that read the bytes following a parsed head without losing
// prefetched bytes.
func (r *Reader) Buffered() *bufio.Reader { return r.br }
