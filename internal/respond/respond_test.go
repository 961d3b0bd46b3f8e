package respond

import (
	"html/template"
	"os"
	"path/filepath"
	"testing"

	"github.com/curol/staticd/internal/auth"
	"github.com/curol/staticd/internal/config"
	"github.com/curol/staticd/internal/dirlist"
	"github.com/curol/staticd/internal/headers"
	"github.com/curol/staticd/internal/message"
	"github.com/curol/staticd/internal/rewrite"
	"github.com/curol/staticd/internal/uri"
)

func newRequest(t *testing.T, method, target string) *message.Request {
	t.Helper()
	u, err := uri.Parse(method, target)
	if err != nil {
		t.Fatal(err)
	}
	return &message.Request{
		Method:    method,
		RawTarget: target,
		URI:       u,
		Version:   message.HTTP11,
		Header:    headers.New(),
		Body:      message.NoBody,
	}
}

func vsWithRoot(t *testing.T, files map[string]string) *config.VirtualServer {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return &config.VirtualServer{
		Hosts:    []string{"*"},
		FileRoot: dir,
		RoutingTable: &rewrite.Table{},
	}
}

func TestGenerateServesPlainFile(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"hello.txt": "hello world"})
	req := newRequest(t, "GET", "/hello.txt")
	out := Generate(vs, req, Env{}, nil)
	if out.Message == nil || out.Message.Status != 200 {
		t.Fatalf("got %+v", out.Message)
	}
	got := make([]byte, out.Message.Body.Stream.Length)
	if _, err := out.Message.Body.Stream.Reader.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got body %q", got)
	}
	if out.Message.Header.GetOne("ETag") == "" {
		t.Fatal("expected ETag")
	}
	out.Message.Body.Close()
}

func TestGenerateMissingFileReturns404(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{})
	req := newRequest(t, "GET", "/nope.txt")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 404 {
		t.Fatalf("got %d", out.Message.Status)
	}
}

func TestGenerateConditionalNotModified(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"hello.txt": "hello world"})
	info, err := os.Stat(filepath.Join(vs.FileRoot, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	etag := etagFor(message.FormatIMFFixdate(info.ModTime()))

	req := newRequest(t, "GET", "/hello.txt")
	req.Header.SetOne("If-None-Match", `"`+etag+`"`)
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 304 {
		t.Fatalf("got %d", out.Message.Status)
	}
}

func TestGenerateDirectoryListingDisabledIs404(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"sub/a.txt": "x"})
	req := newRequest(t, "GET", "/sub")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 404 {
		t.Fatalf("got %d", out.Message.Status)
	}
}

func TestGenerateDirectoryListingEnabled(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"sub/a.txt": "x", "sub/.viewable": "hi"})
	vs.DirListing = dirlist.Options{Enabled: true}
	req := newRequest(t, "GET", "/sub")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 200 {
		t.Fatalf("got %d", out.Message.Status)
	}
	if out.Message.Header.GetOne("Content-Type") != "text/html" {
		t.Fatalf("got %q", out.Message.Header.GetOne("Content-Type"))
	}
}

func TestGenerateMethodNotAllowedOnNonScript(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"hello.txt": "hi"})
	req := newRequest(t, "DELETE", "/hello.txt")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 405 {
		t.Fatalf("got %d", out.Message.Status)
	}
}

func TestGenerateUnauthorizedChallengesRealm(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"secret/doc.txt": "classified"})
	vs.BasicAuth = []auth.Realm{{
		Name:        "vault",
		Credentials: map[string]string{"alice": "$2a$10$N9qo8uLOickgx2ZMRZoHyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
		Matches: func(target string) bool {
			return len(target) >= len("/secret/") && target[:len("/secret/")] == "/secret/"
		},
	}}
	req := newRequest(t, "GET", "/secret/doc.txt")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 401 {
		t.Fatalf("got %d", out.Message.Status)
	}
	if out.Message.Header.GetOne("WWW-Authenticate") != `basic realm="vault"` {
		t.Fatalf("got %q", out.Message.Header.GetOne("WWW-Authenticate"))
	}
}

func TestGenerateRangeRequest(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"hello.txt": "0123456789"})
	req := newRequest(t, "GET", "/hello.txt")
	req.Header.SetOne("Range", "bytes=2-4")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Status != 206 {
		t.Fatalf("got %d", out.Message.Status)
	}
	got := make([]byte, out.Message.Body.Stream.Length)
	if _, err := out.Message.Body.Stream.Reader.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "234" {
		t.Fatalf("got body %q", got)
	}
	if out.Message.Header.GetOne("Content-Range") != "bytes 2-4/10" {
		t.Fatalf("got %q", out.Message.Header.GetOne("Content-Range"))
	}
	out.Message.Body.Close()
}

func TestGenerateHeadHasNoBody(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"hello.txt": "hello world"})
	req := newRequest(t, "HEAD", "/hello.txt")
	out := Generate(vs, req, Env{}, nil)
	if out.Message.Body.Kind != message.BodyNone {
		t.Fatalf("expected no body, got %+v", out.Message.Body)
	}
	if out.Message.Header.GetOne("Content-Type") == "" {
		t.Fatal("expected Content-Type header to survive HEAD")
	}
}

func TestGenerateRewritesTarget(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{"index.html": "home"})
	rule, err := rewrite.Compile("@/", "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	vs.RoutingTable = &rewrite.Table{Rules: []rewrite.Rule{rule}}
	req := newRequest(t, "GET", "/")
	out := Generate(vs, req, Env{}, nil)
	if out.RoutedTarget != "/index.html" {
		t.Fatalf("got %q", out.RoutedTarget)
	}
	got := make([]byte, out.Message.Body.Stream.Length)
	if _, err := out.Message.Body.Stream.Reader.Read(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "home" {
		t.Fatalf("got body %q", got)
	}
	out.Message.Body.Close()
}

func TestErrorResponseUsesConfiguredTemplate(t *testing.T) {
	vs := vsWithRoot(t, map[string]string{})
	vs.ErrorTemplate = template.Must(template.New("error").Parse(`custom {{.Status}} {{.StatusText}}`))
	req := newRequest(t, "GET", "/nope.txt")
	out := Generate(vs, req, Env{}, nil)
	if got := string(out.Message.Body.Bytes); got != "custom 404 Not Found" {
		t.Fatalf("got body %q", got)
	}
}
