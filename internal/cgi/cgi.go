// Package cgi implements the CGI/NPH script adapter (§4.9): environment
// construction, subprocess execution via os/exec, and response
// synthesis from a script's stdout.
//
// There is no teacher equivalent (the teacher never spawns
// subprocesses); this is built directly against the spec using
// os/exec, the only idiomatic way to pipe a subprocess's stdin/stdout/
// stderr in Go.
package cgi

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/message"
	"github.com/curol/staticd/internal/uri"
)

// ErrNoInterpreter is returned when cgi_executors has no entry for the
// script's extension.
var ErrNoInterpreter = errors.New("cgi: no interpreter configured for extension")

// ErrScriptFailed is returned when the script exits non-zero.
type ErrScriptFailed struct {
	ExitCode int
	Stderr   []string
}

func (e *ErrScriptFailed) Error() string {
	return fmt.Sprintf("cgi: script exited %d", e.ExitCode)
}

// Request carries everything the adapter needs to build the CGI
// environment and argv for one invocation.
type Request struct {
	Method       string
	Target       *uri.URI // target as parsed from the request line, before rewriting
	RawTarget    string
	ScriptPath   string // on-disk path of the script, passed to the interpreter
	Header       *headers.Store
	Body         message.Body
	RemoteAddr   string
	RemoteHost   string
	ServerName   string
	ServerPort   string
	ServerSoft   string
	AuthType     string
	RemoteUser   string
	NPH          bool
	Extension    string            // lower-cased, no dot
	Interpreters map[string]string // extension -> command
}

// Result is the outcome of Run: for NPH scripts Raw is the script's
// byte-for-byte stdout, to be sent unmodified; for CGI scripts Run has
// already parsed the synthesized response with the message codec (step
// 7), and Version/Code/Header/Body hold the parsed parts.
type Result struct {
	NPH     bool
	Raw     []byte // set when NPH
	Version message.Version
	Code    int
	Header  *headers.Store
	Body    message.Body
}

// Run executes req per §4.9.
func Run(req Request) (Result, error) {
	command, ok := req.Interpreters[req.Extension]
	if !ok {
		return Result{}, ErrNoInterpreter
	}

	args := []string{command, req.ScriptPath}
	if req.Target != nil && req.Target.Query.Kind == uri.QuerySearchString {
		args = append(args, req.Target.Query.Terms...)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = buildEnv(req)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, err
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	if err := writeBody(stdin, req.Body); err != nil {
		stdin.Close()
		cmd.Wait()
		return Result{}, err
	}
	stdin.Close()

	err = cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		code := -1
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return Result{}, &ErrScriptFailed{ExitCode: code, Stderr: splitLines(stderr.String())}
	}

	if req.NPH {
		return Result{NPH: true, Raw: stdout.Bytes()}, nil
	}
	return parseCGIResponse(stdout.Bytes())
}

func writeBody(w io.WriteCloser, body message.Body) error {
	switch body.Kind {
	case message.BodyBytes:
		_, err := w.Write(body.Bytes)
		return err
	case message.BodyStream:
		buf := make([]byte, message.ReadChunkSize)
		remaining := body.Stream.Length
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			read, err := body.Stream.Reader.Read(buf[:n])
			if read > 0 {
				if _, werr := w.Write(buf[:read]); werr != nil {
					return werr
				}
			}
			remaining -= int64(read)
			if err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// parseCGIResponse implements §4.9 step 7: prepend a status line, fix
// up bare LFs to CRLFs within the head section only, then parse with
// the message codec's response path.
func parseCGIResponse(stdout []byte) (Result, error) {
	if len(stdout) == 0 {
		return Result{}, errors.New("cgi: empty script output")
	}

	headEnd := findHeadEnd(stdout)
	head := stdout[:headEnd]
	body := stdout[headEnd:]

	fixed := strings.ReplaceAll(string(head), "\r\n", "\n")
	fixed = strings.ReplaceAll(fixed, "\n", "\r\n")

	var synthesized bytes.Buffer
	synthesized.WriteString("HTTP/1.1 200 OK\r\n")
	synthesized.WriteString(fixed)
	synthesized.Write(body)

	r := message.NewReader(bytes.NewReader(synthesized.Bytes()), nil)
	version, code, h, err := r.ReadResponseHead()
	if err != nil {
		return Result{}, err
	}
	rest, err := io.ReadAll(r.Buffered())
	if err != nil {
		return Result{}, err
	}
	return Result{
		Version: version,
		Code:    code,
		Header:  h,
		Body:    message.NewBytesBody(rest),
	}, nil
}

// findHeadEnd locates the end of the header block: the first blank
// line (LF LF or CRLF CRLF), defaulting to the whole buffer if none is
// found (an empty body).
func findHeadEnd(stdout []byte) int {
	r := bufio.NewReader(bytes.NewReader(stdout))
	offset := 0
	for {
		line, err := r.ReadString('\n')
		offset += len(line)
		if err != nil {
			return len(stdout)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return offset
		}
	}
}

var skipForwardedHeaders = map[string]bool{
	"content-length": true,
	"content-type":   true,
	"connection":     true,
}

func buildEnv(req Request) []string {
	parent := ""
	if req.Target != nil && len(req.Target.Segments) > 0 {
		parent = "/" + strings.Join(req.Target.Segments[:len(req.Target.Segments)-1], "/")
	}
	query := ""
	if req.Target != nil {
		query = req.Target.Query.String()
	}
	contentLength := ""
	if req.Body.Kind != message.BodyNone {
		contentLength = strconv.FormatInt(req.Body.Len(), 10)
	}
	contentType := ""
	if vals, ok := req.Header.Get("Content-Type"); ok && len(vals) > 0 {
		contentType = vals[0]
	}

	env := []string{
		"AUTH_TYPE=" + req.AuthType,
		"CONTENT_LENGTH=" + contentLength,
		"CONTENT_TYPE=" + contentType,
		"GATEWAY_INTERFACE=CGI/1.1",
		"PATH_INFO=" + parent,
		"PATH_TRANSLATED=" + parent,
		"QUERY_STRING=" + query,
		"REMOTE_ADDR=" + req.RemoteAddr,
		"REMOTE_HOST=" + req.RemoteHost,
		"REMOTE_IDENT=",
		"REMOTE_USER=" + req.RemoteUser,
		"REQUEST_METHOD=" + req.Method,
		"SCRIPT_NAME=" + parent,
		"SERVER_NAME=" + req.ServerName,
		"SERVER_PORT=" + req.ServerPort,
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_SOFTWARE=" + req.ServerSoft,
	}

	for _, name := range req.Header.Names() {
		lower := strings.ToLower(name)
		if skipForwardedHeaders[lower] {
			continue
		}
		vals, _ := req.Header.Get(name)
		envName := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env = append(env, envName+"="+strings.Join(vals, ", "))
	}

	return env
}

// IsScript reports whether baseWithoutExt (a path's final segment, with
// its extension stripped) names a CGI or NPH-CGI script, and whether it
// is NPH.
func IsScript(baseWithoutExt string) (isScript, nph bool) {
	if strings.HasSuffix(baseWithoutExt, "_nph_cgi") {
		return true, true
	}
	if strings.HasSuffix(baseWithoutExt, "_cgi") {
		return true, false
	}
	return false, false
}
