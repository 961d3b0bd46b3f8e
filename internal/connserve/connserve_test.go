package connserve

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/curol/staticd/internal/config"
	"github.com/curol/staticd/internal/rewrite"
)

func vsWithRoot(t *testing.T, hosts []string, files map[string]string) *config.VirtualServer {
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
		Hosts:        hosts,
		FileRoot:     dir,
		RoutingTable: &rewrite.Table{},
	}
}

func startListener(t *testing.T, servers []*config.VirtualServer) (addr string, stop chan struct{}) {
	t.Helper()
	l := &Listener{Address: "127.0.0.1:0", Servers: servers}
	stop = make(chan struct{})
	go l.Serve(stop)

	deadline := time.Now().Add(2 * time.Second)
	for l.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return l.Addr().String(), stop
}

func TestServeRespondsToSimpleGET(t *testing.T) {
	vs := vsWithRoot(t, []string{"*"}, map[string]string{"hello.txt": "hi there"})
	addr, stop := startListener(t, []*config.VirtualServer{vs})
	defer close(stop)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	io.WriteString(conn, "GET /hello.txt HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _ := io.ReadAll(conn)
	if !strings.Contains(string(data), "200") || !strings.Contains(string(data), "hi there") {
		t.Fatalf("got %q", string(data))
	}
}

func TestServeClosesOnUnknownHost(t *testing.T) {
	vs := vsWithRoot(t, []string{"example.com"}, map[string]string{"a.txt": "x"})
	addr, stop := startListener(t, []*config.VirtualServer{vs})
	defer close(stop)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	io.WriteString(conn, "GET /a.txt HTTP/1.1\r\nHost: other.com\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)
	_, err = br.ReadByte()
	if err == nil {
		t.Fatal("expected connection to be closed with no bytes written")
	}
}

func TestServeKeepsAliveAcrossTwoRequests(t *testing.T) {
	vs := vsWithRoot(t, []string{"*"}, map[string]string{"a.txt": "aaa", "b.txt": "bbb"})
	addr, stop := startListener(t, []*config.VirtualServer{vs})
	defer close(stop)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	io.WriteString(conn, "GET /a.txt HTTP/1.1\r\nHost: example.com\r\n\r\n")
	br := bufio.NewReader(conn)
	line1, _ := br.ReadString('\n')
	if !strings.Contains(line1, "200") {
		t.Fatalf("first response line: %q", line1)
	}
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if l == "\r\n" {
			break
		}
	}
	io.CopyN(io.Discard, br, 3)

	io.WriteString(conn, "GET /b.txt HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	line2, _ := br.ReadString('\n')
	if !strings.Contains(line2, "200") {
		t.Fatalf("second response line: %q", line2)
	}
}
