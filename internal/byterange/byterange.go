// Package byterange implements the Range/Content-Range evaluator (§4.5):
// parsing a Range header into one or more half-open byte ranges and
// trimming or multiplexing a Body to match.
package byterange

import (
	"errors"
	"strconv"
	"strings"

	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/message"
	"github.com/google/uuid"
)

// ErrUnsatisfiable is returned when the Range header names only invalid
// ranges; the caller maps this to 416.
var ErrUnsatisfiable = errors.New("byterange: no satisfiable range")

// Range is a half-open [Low, High) byte range.
type Range struct {
	Low, High int64
}

// Result carries the caller-facing outcome of applying a Range header.
type Result struct {
	// Applied is false when there was no (valid) Range header at all;
	// the caller should send the full body unmodified.
	Applied bool
	// Multipart is true when two or more ranges were requested, in
	// which case Body/MediaType already reflect the synthesized
	// multipart/byteranges payload and ContentRange is unused.
	Multipart bool
	Body      message.Body
	MediaType string
	// ContentRange is the header value for a single-range response.
	ContentRange string
}

// Apply parses h's Range header (if any) against a body of the given
// total length and media type, per §4.5. body is consumed: for a single
// range it is trimmed in place (sliced for Bytes, seeked for Stream);
// for multiple ranges the original body is read fully into memory to
// synthesize the multipart response (§9 "Multipart range memory").
func Apply(h *headers.Store, body message.Body, mediaType string, total int64) (Result, error) {
	raw, ok := h.Get("Range")
	if !ok {
		return Result{Applied: false}, nil
	}
	value := strings.Join(raw, ",")
	if !strings.HasPrefix(value, "bytes=") {
		return Result{Applied: false}, nil
	}
	spec := value[len("bytes="):]

	var ranges []Range
	for _, piece := range strings.Split(spec, ",") {
		piece = strings.TrimSpace(piece)
		if r, ok := parseOne(piece, total); ok {
			ranges = append(ranges, r)
		}
	}
	if len(ranges) == 0 {
		return Result{}, ErrUnsatisfiable
	}
	if len(ranges) == 1 {
		r := ranges[0]
		trimmed, err := trim(body, r)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Applied:      true,
			Body:         trimmed,
			MediaType:    mediaType,
			ContentRange: message.FormatContentRange(r.Low, r.High, total),
		}, nil
	}

	whole, err := readAll(body)
	if err != nil {
		return Result{}, err
	}
	boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
	var sb strings.Builder
	for _, r := range ranges {
		sb.WriteString("--")
		sb.WriteString(boundary)
		sb.WriteString("\r\n")
		sb.WriteString("Content-Type: ")
		sb.WriteString(mediaType)
		sb.WriteString("\r\n")
		sb.WriteString("Content-Range: ")
		sb.WriteString(message.FormatContentRange(r.Low, r.High, total))
		sb.WriteString("\r\n\r\n")
		sb.Write(whole[r.Low:r.High])
		sb.WriteString("\r\n")
	}
	sb.WriteString("--")
	sb.WriteString(boundary)
	sb.WriteString("--")

	return Result{
		Applied:   true,
		Multipart: true,
		Body:      message.NewBytesBody([]byte(sb.String())),
		MediaType: "multipart/byteranges; boundary=" + boundary,
	}, nil
}

func parseOne(piece string, total int64) (Range, bool) {
	if piece == "" {
		return Range{}, false
	}
	dash := strings.IndexByte(piece, '-')
	if dash < 0 {
		return Range{}, false
	}
	lowStr, highStr := piece[:dash], piece[dash+1:]

	var low, high int64
	switch {
	case lowStr == "": // suffix form: -N
		n, err := strconv.ParseInt(highStr, 10, 64)
		if err != nil || n < 0 {
			return Range{}, false
		}
		low = total - n
		if low < 0 {
			low = 0
		}
		high = total
	case highStr == "": // prefix form: N-
		n, err := strconv.ParseInt(lowStr, 10, 64)
		if err != nil || n < 0 {
			return Range{}, false
		}
		low = n
		high = total
	default: // full form: A-B
		a, err1 := strconv.ParseInt(lowStr, 10, 64)
		b, err2 := strconv.ParseInt(highStr, 10, 64)
		if err1 != nil || err2 != nil || a < 0 || b < 0 {
			return Range{}, false
		}
		low = a
		high = b + 1
	}
	if high > total || low >= high {
		return Range{}, false
	}
	return Range{Low: low, High: high}, true
}

func trim(body message.Body, r Range) (message.Body, error) {
	switch body.Kind {
	case message.BodyBytes:
		out := body
		out.Slice(r.Low, r.High)
		return out, nil
	case message.BodyStream:
		out := body
		if err := out.Seek(r.Low); err != nil {
			return message.Body{}, err
		}
		out.Stream.Length = r.High - r.Low
		return out, nil
	default:
		return body, nil
	}
}

func readAll(body message.Body) ([]byte, error) {
	if body.Kind == message.BodyBytes {
		return body.Bytes, nil
	}
	buf := make([]byte, body.Stream.Length)
	total := int64(0)
	for total < body.Stream.Length {
		n, err := body.Stream.Reader.Read(buf[total:])
		total += int64(n)
		if err != nil {
			if total == body.Stream.Length {
				break
			}
			return nil, err
		}
	}
	return buf, nil
}
