package message

import (
	"strconv"
	"time"

	"github.com/curol/staticd/internal/headers"
)

// imfFixdateLayout is the HTTP-date format from RFC 2616 ("Day, DD Mon
// YYYY HH:MM:SS GMT").
const imfFixdateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatIMFFixdate renders t in IMF-fixdate form.
func FormatIMFFixdate(t time.Time) string {
	return t.UTC().Format(imfFixdateLayout)
}

// ParseIMFFixdate parses an IMF-fixdate string.
func ParseIMFFixdate(s string) (time.Time, error) {
	return time.Parse(imfFixdateLayout, s)
}

// ServerName is emitted as the Server header on every response.
const ServerName = "staticd"

// Response is the parsed/constructed form of one server response.
type Response struct {
	Version Version
	Status  int
	Header  *headers.Store
	Body    Body
	Chunked bool
}

// NewResponse returns a 200 response with Server and Date pre-populated,
// mirroring the teacher's Response zero-value defaults in
// message/response.go but adding the Date header the teacher never set.
func NewResponse(version Version) *Response {
	h := headers.New()
	h.SetOne("Server", ServerName)
	h.SetOne("Date", FormatIMFFixdate(time.Now()))
	return &Response{Version: version, Status: 200, Header: h}
}

// SetStatus sets the status code. Per §9 "Builder ambiguity", setting a
// 1xx or 204 status drops any previously attached body and
// Content-Length, since those statuses are defined to carry no body.
func (r *Response) SetStatus(code int) {
	r.Status = code
	if code == 204 || (code >= 100 && code < 200) {
		r.Body = NoBody
		r.Chunked = false
		r.Header.Remove("Content-Length")
		r.Header.Remove("Transfer-Encoding")
	}
}

// WithBody attaches body with the given media type and sets
// Content-Type/Content-Length/Transfer-Encoding per §4.3.2's builder
// rules. A Stream body is never chunked, regardless of size, since its
// length is already known (§9 "Builder ambiguity").
func (r *Response) WithBody(body Body, mediaType string) *Response {
	if r.Status == 204 || (r.Status >= 100 && r.Status < 200) {
		return r // invariant: no body on 1xx/204, see SetStatus.
	}
	r.Header.SetOne("Content-Type", mediaType)
	switch body.Kind {
	case BodyStream:
		r.Body = body
		r.Chunked = false
		r.Header.Remove("Transfer-Encoding")
		r.Header.SetOne("Content-Length", strconv.FormatInt(body.Stream.Length, 10))
	case BodyBytes:
		r.Body = body
		if len(body.Bytes) <= MaxBodyBeforeChunk {
			r.Chunked = false
			r.Header.Remove("Transfer-Encoding")
			r.Header.SetOne("Content-Length", strconv.Itoa(len(body.Bytes)))
		} else {
			r.Chunked = true
			r.Header.Remove("Content-Length")
			r.Header.SetOne("Transfer-Encoding", []string{"chunked"}[0])
		}
	default:
		r.Body = NoBody
	}
	return r
}
