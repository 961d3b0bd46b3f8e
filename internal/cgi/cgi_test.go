package cgi

import (
	"errors"
	"os"
	"testing"

	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/message"
	"github.com/curol/staticd/internal/uri"
)

func writeScript(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		return err
	}
	return os.Chmod(path, 0o755)
}

func baseRequest(t *testing.T) Request {
	t.Helper()
	target, err := uri.Parse("GET", "/cgi-bin/hello_cgi")
	if err != nil {
		t.Fatal(err)
	}
	return Request{
		Method:       "GET",
		Target:       target,
		RawTarget:    "/cgi-bin/hello_cgi",
		Header:       headers.New(),
		Body:         message.NoBody,
		RemoteAddr:   "127.0.0.1",
		ServerName:   "localhost",
		ServerPort:   "8080",
		ServerSoft:   "staticd",
		Extension:    "sh",
		Interpreters: map[string]string{"sh": "/bin/sh"},
	}
}

func TestRunMissingInterpreter(t *testing.T) {
	req := baseRequest(t)
	req.Interpreters = map[string]string{}
	_, err := Run(req)
	if err != ErrNoInterpreter {
		t.Fatalf("got %v", err)
	}
}

func TestRunCGIScriptParsed(t *testing.T) {
	dir := t.TempDir()
	script := dir + "/hello_cgi.sh"
	if err := writeScript(script, "#!/bin/sh\nprintf 'Content-Type: text/plain\\n\\nhi there'\n"); err != nil {
		t.Fatal(err)
	}
	req := baseRequest(t)
	req.ScriptPath = script
	result, err := Run(req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Code != 200 {
		t.Fatalf("got code %d", result.Code)
	}
	if string(result.Body.Bytes) != "hi there" {
		t.Fatalf("got body %q", result.Body.Bytes)
	}
}

func TestRunNPHPassesStdoutUnchanged(t *testing.T) {
	dir := t.TempDir()
	script := dir + "/hello_nph_cgi.sh"
	if err := writeScript(script, "#!/bin/sh\nprintf 'HTTP/1.1 200 OK\\r\\n\\r\\nraw'\n"); err != nil {
		t.Fatal(err)
	}
	req := baseRequest(t)
	req.ScriptPath = script
	req.NPH = true
	result, err := Run(req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NPH || string(result.Raw) != "HTTP/1.1 200 OK\r\n\r\nraw" {
		t.Fatalf("got %v %q", result.NPH, result.Raw)
	}
}

func TestRunNonZeroExitReturnsError(t *testing.T) {
	dir := t.TempDir()
	script := dir + "/fail_cgi.sh"
	if err := writeScript(script, "#!/bin/sh\necho boom 1>&2\nexit 1\n"); err != nil {
		t.Fatal(err)
	}
	req := baseRequest(t)
	req.ScriptPath = script
	_, err := Run(req)
	var scriptErr *ErrScriptFailed
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.As(err, &scriptErr) {
		t.Fatalf("got %v", err)
	}
	if scriptErr.ExitCode != 1 || len(scriptErr.Stderr) != 1 || scriptErr.Stderr[0] != "boom" {
		t.Fatalf("got %+v", scriptErr)
	}
}

func TestIsScriptDetectsCGI(t *testing.T) {
	isScript, nph := IsScript("hello_cgi")
	if !isScript || nph {
		t.Fatalf("got %v %v", isScript, nph)
	}
}

func TestIsScriptDetectsNPH(t *testing.T) {
	isScript, nph := IsScript("hello_nph_cgi")
	if !isScript || !nph {
		t.Fatalf("got %v %v", isScript, nph)
	}
}

func TestIsScriptNonScript(t *testing.T) {
	isScript, _ := IsScript("index")
	if isScript {
		t.Fatal("expected false")
	}
}

func TestParseCGIResponseEmptyOutput(t *testing.T) {
	_, err := parseCGIResponse(nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseCGIResponseFixesUpHeaders(t *testing.T) {
	out := []byte("Content-Type: text/plain\nX-Custom: 1\n\nhello body")
	result, err := parseCGIResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	if result.Code != 200 {
		t.Fatalf("got code %d", result.Code)
	}
	vals, ok := result.Header.Get("Content-Type")
	if !ok || vals[0] != "text/plain" {
		t.Fatalf("got %v", vals)
	}
	if string(result.Body.Bytes) != "hello body" {
		t.Fatalf("got body %q", result.Body.Bytes)
	}
}

func TestBuildEnvForwardsHeaders(t *testing.T) {
	h := headers.New()
	h.SetOne("X-Custom-Thing", "value")
	h.SetOne("Content-Length", "5")
	target, _ := uri.Parse("GET", "/cgi-bin/hello_cgi?a=1")
	req := Request{
		Method:     "GET",
		Target:     target,
		Header:     h,
		Body:       message.NoBody,
		ServerName: "localhost",
		ServerPort: "80",
		ServerSoft: "staticd",
	}
	env := buildEnv(req)
	found := false
	for _, e := range env {
		if e == "HTTP_X_CUSTOM_THING=value" {
			found = true
		}
		if e == "HTTP_CONTENT_LENGTH=5" {
			t.Fatalf("Content-Length must not be forwarded as an HTTP_ header: %s", e)
		}
	}
	if !found {
		t.Fatalf("expected forwarded header in env: %v", env)
	}
}
