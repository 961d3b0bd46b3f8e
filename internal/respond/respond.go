// Package respond implements the response generator (§4.10): the
// per-request pipeline that rewrites, authenticates, opens the routed
// target, evaluates conditionals and ranges, dispatches CGI, and
// assembles the outgoing message.
//
// Grounded on the teacher's message/server/handler.go and
// message/server/handlers.go ("one function assembles one response
// from one request") and message/response.go's head+body split,
// generalized to orchestrate every other component package.
package respond

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/curol/staticd/internal/auth"
	"github.com/curol/staticd/internal/byterange"
	"github.com/curol/staticd/internal/cgi"
	"github.com/curol/staticd/internal/condition"
	"github.com/curol/staticd/internal/config"
	"github.com/curol/staticd/internal/dirlist"
	"github.com/curol/staticd/internal/logging"
	"github.com/curol/staticd/internal/message"
	"github.com/curol/staticd/internal/mimetype"
)

// OutputKind tags the shape of a generated output: a response message
// (which also carries §7's status and templated-error outputs) or opaque
// bytes (NPH CGI output). There is no separate Terminate kind.
type OutputKind int

const (
	KindResponse OutputKind = iota
	KindBytes
)

// Output is what the connection loop sends for one request.
type Output struct {
	Kind          OutputKind
	Message       *message.Response
	Bytes         []byte
	Close         bool
	RawTarget     string
	RoutedTarget  string
	UsedBasicAuth bool
}

// Env carries the connection-scoped facts the generator needs beyond
// the request itself: who's asking, and what the server calls itself
// on this socket.
type Env struct {
	RemoteAddr string
	RemoteHost string
	ServerPort string
}

// Generate runs the full C10 pipeline for one request against vs. log
// may be nil (e.g. in tests); it is only consulted for §4.9's CGI
// warning cases.
func Generate(vs *config.VirtualServer, req *message.Request, env Env, log logging.Logger) *Output {
	rawPath := "/" + strings.Join(req.URI.Segments, "/")
	routedPath := rawPath
	if vs.RoutingTable != nil {
		routedPath = vs.RoutingTable.Rewrite(rawPath)
	}

	out := &Output{RawTarget: req.RawTarget, RoutedTarget: routedPath}

	outcome, realmName := auth.Check(vs.BasicAuth, routedPath, req.Header)
	if outcome == auth.Unauthorized {
		out.UsedBasicAuth = true
		out.Message = errorResponse(req.Version, 401, vs)
		out.Message.Header.SetOne("WWW-Authenticate", auth.Challenge(realmName))
		return out
	}
	if outcome == auth.Authorized {
		out.UsedBasicAuth = true
	}

	diskPath := filepath.Join(vs.FileRoot, filepath.FromSlash(routedPath))
	info, err := os.Stat(diskPath)
	if err != nil {
		out.Message = errorResponse(req.Version, 404, vs)
		return out
	}

	condInfo := buildCondInfo(info)
	base := strings.TrimSuffix(filepath.Base(diskPath), filepath.Ext(diskPath))
	isScript, nph := cgi.IsScript(base)

	switch {
	case info.IsDir() && (req.Method == "GET" || req.Method == "HEAD"):
		renderListing(vs, req, routedPath, diskPath, condInfo, out)

	case !info.IsDir() && (req.Method == "GET" || req.Method == "HEAD") && isScript:
		runScript(vs, req, diskPath, nph, env, out.UsedBasicAuth, log, out)

	case !info.IsDir() && (req.Method == "GET" || req.Method == "HEAD"):
		serveFile(vs, req, diskPath, info, condInfo, out)

	case isScript:
		runScript(vs, req, diskPath, nph, env, out.UsedBasicAuth, log, out)

	default:
		out.Message = errorResponse(req.Version, 405, vs)
	}

	return out
}

func renderListing(vs *config.VirtualServer, req *message.Request, routedPath, diskPath string, condInfo condition.Info, out *Output) {
	if !vs.DirListing.Enabled {
		out.Message = errorResponse(req.Version, 404, vs)
		return
	}
	body, err := dirlist.Render(ensureTrailingSlash(routedPath), diskPath, vs.DirListing, vs.ListingTemplate)
	if err != nil {
		switch err {
		case dirlist.ErrUnreadable:
			out.Message = errorResponse(req.Version, 404, vs)
		case dirlist.ErrForbidden:
			out.Message = errorResponse(req.Version, 403, vs)
		default:
			out.Message = errorResponse(req.Version, 500, vs)
		}
		return
	}
	resp := message.NewResponse(req.Version)
	resp.WithBody(message.NewBytesBody(body), "text/html")
	setCondHeaders(resp, condInfo)
	if req.Method == "HEAD" {
		resp.Body = message.NoBody
	}
	out.Message = resp
}

// serveFile opens diskPath and assembles a 200/206 response. The
// opened file stays attached to out.Message.Body (directly, or via
// byterange.Apply's in-place seek for a single range) for the caller
// to close once the response is fully written; the multipart case
// reads the file fully and closes it here, since the bytes it produces
// no longer reference the handle.
func serveFile(vs *config.VirtualServer, req *message.Request, diskPath string, info os.FileInfo, condInfo condition.Info, out *Output) {
	outcome := condition.Evaluate(condInfo, req.Header)
	switch outcome {
	case condition.PreconditionFailed:
		out.Message = errorResponse(req.Version, 412, vs)
		return
	case condition.NotModified:
		resp := message.NewResponse(req.Version)
		resp.SetStatus(304)
		setCondHeaders(resp, condInfo)
		out.Message = resp
		return
	}

	f, err := os.Open(diskPath)
	if err != nil {
		out.Message = errorResponse(req.Version, 404, vs)
		return
	}
	body := message.NewStreamBody(f, info.Size())
	mediaType := mimetype.ForPath(diskPath)

	result, err := byterange.Apply(req.Header, body, mediaType, info.Size())
	if err != nil {
		f.Close()
		resp := errorResponse(req.Version, 416, vs)
		resp.Header.SetOne("Content-Range", fmt.Sprintf("bytes */%d", info.Size()))
		out.Message = resp
		return
	}

	resp := message.NewResponse(req.Version)
	if result.Applied {
		resp.WithBody(result.Body, result.MediaType)
		if result.Multipart {
			f.Close() // whole file already copied into result.Body
		} else {
			resp.SetStatus(206)
			resp.Header.SetOne("Content-Range", result.ContentRange)
		}
	} else {
		resp.WithBody(body, mediaType)
	}
	setCondHeaders(resp, condInfo)
	if req.Method == "HEAD" {
		resp.Body.Close()
		resp.Body = message.NoBody
	}
	out.Message = resp
}

func runScript(vs *config.VirtualServer, req *message.Request, diskPath string, nph bool, env Env, usedBasicAuth bool, log logging.Logger, out *Output) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(diskPath), "."))
	authType := ""
	remoteUser := ""
	if usedBasicAuth {
		authType = "Basic"
		remoteUser, _ = auth.Username(req.Header)
	}

	cgiReq := cgi.Request{
		Method:       req.Method,
		Target:       req.URI,
		RawTarget:    req.RawTarget,
		ScriptPath:   diskPath,
		Header:       req.Header,
		Body:         req.Body,
		RemoteAddr:   env.RemoteAddr,
		RemoteHost:   env.RemoteHost,
		ServerName:   req.Header.GetOne("Host"),
		ServerPort:   env.ServerPort,
		ServerSoft:   message.ServerName,
		AuthType:     authType,
		RemoteUser:   remoteUser,
		NPH:          nph,
		Extension:    ext,
		Interpreters: vs.CGIExecutors,
	}

	result, err := cgi.Run(cgiReq)
	if err != nil {
		logScriptError(log, diskPath, err)
		out.Message = errorResponse(req.Version, 500, vs)
		return
	}
	if result.NPH {
		out.Kind = KindBytes
		out.Bytes = result.Raw
		out.Close = true
		return
	}

	resp := &message.Response{
		Version: req.Version,
		Status:  result.Code,
		Header:  result.Header,
		Body:    result.Body,
	}
	if req.Method == "HEAD" {
		resp.Body = message.NoBody
	}
	out.Message = resp
}

// logScriptError reports §4.9 steps 1 and 5: a warning when no
// interpreter is configured for the script's extension, and the
// script's captured stderr line-by-line on a non-zero exit.
func logScriptError(log logging.Logger, scriptPath string, err error) {
	if log == nil {
		return
	}
	var failed *cgi.ErrScriptFailed
	if errors.As(err, &failed) {
		log.Warnf("cgi: %s exited %d", scriptPath, failed.ExitCode)
		for _, line := range failed.Stderr {
			log.Warnf("cgi: %s: %s", scriptPath, line)
		}
		return
	}
	if errors.Is(err, cgi.ErrNoInterpreter) {
		log.Warnf("cgi: %s: no interpreter configured for extension", scriptPath)
		return
	}
	log.Errorf("cgi: %s: %v", scriptPath, err)
}

func buildCondInfo(info os.FileInfo) condition.Info {
	lm := info.ModTime()
	fixdate := message.FormatIMFFixdate(lm)
	return condition.Info{
		ETag:         etagFor(fixdate),
		HasETag:      true,
		LastModified: lm,
		HasModified:  true,
	}
}

// etagFor implements §4.10 step 4: hash the IMF-fixdate string, then
// hash its reverse, and concatenate the two hex digests.
func etagFor(fixdate string) string {
	h1 := sha256.Sum256([]byte(fixdate))
	h2 := sha256.Sum256([]byte(reverseString(fixdate)))
	return hex.EncodeToString(h1[:]) + hex.EncodeToString(h2[:])
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func setCondHeaders(resp *message.Response, info condition.Info) {
	if info.HasETag {
		resp.Header.SetOne("ETag", `"`+info.ETag+`"`)
	}
	if info.HasModified {
		resp.Header.SetOne("Last-Modified", message.FormatIMFFixdate(info.LastModified))
	}
}

// errorPage is the data substituted into an error template, grounded
// on the original's output_processor.rs::respond_error building a
// SubstitutionMap{server, status} for self.templates.error.substitute.
type errorPage struct {
	Server     string
	Status     int
	StatusText string
}

// defaultErrorTemplate is used when vs has no "error.html" under its
// template root, mirroring dirlist.go's defaultTemplate fallback.
var defaultErrorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Status}} {{.StatusText}}</title></head>
<body><h1>{{.Status}} {{.StatusText}}</h1></body>
</html>
`))

// errorResponse renders a templated error page (§7's generation-time
// "Error(code, close)" output) for code, preferring vs's configured
// ErrorTemplate and falling back to defaultErrorTemplate. vs may be nil.
func errorResponse(version message.Version, code int, vs *config.VirtualServer) *message.Response {
	resp := message.NewResponse(version)
	resp.SetStatus(code)

	tmpl := defaultErrorTemplate
	if vs != nil && vs.ErrorTemplate != nil {
		tmpl = vs.ErrorTemplate
	}
	page := errorPage{Server: message.ServerName, Status: code, StatusText: message.StatusText(code)}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, page); err != nil {
		buf.Reset()
		defaultErrorTemplate.Execute(&buf, page)
	}
	resp.WithBody(message.NewBytesBody(buf.Bytes()), "text/html")
	return resp
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
