// Package connserve implements the connection loop (§4.11): one
// goroutine per accepted connection, driving C3 (parse) -> virtual-host
// selection -> C10 (generate) -> C3 (emit), deciding after every
// response whether to keep the connection alive.
//
// Grounded on the teacher's server/server.go and message/server/server.go
// accept loops ("for { conn, err := listener.Accept(); go serve(conn) }"),
// generalized with a select-based stop channel (the teacher has none —
// its loop only ever exits via log.Fatal) and virtual-host dispatch
// ahead of the handler call.
package connserve

import (
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/curol/staticd/internal/config"
	"github.com/curol/staticd/internal/logging"
	"github.com/curol/staticd/internal/message"
	"github.com/curol/staticd/internal/respond"
)

// Listener runs one accept loop for every virtual server sharing a
// single address (§4.12: "multiple configs = multiple virtual servers
// on one listener").
type Listener struct {
	Address string
	Servers []*config.VirtualServer
	Log     logging.Logger

	mu sync.Mutex
	ln net.Listener
}

// Serve binds Address and accepts connections until stop is closed.
// stop must be closed, never sent on, so every blocked Accept call's
// goroutine observes it exactly once (§4.11 step 4).
func (l *Listener) Serve(stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return err
	}
	if tlsConfig := l.buildTLSConfig(); tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go func() {
		<-stop
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				wg.Wait()
				return nil
			default:
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveConn(conn)
		}()
	}
}

// Addr returns the listener's bound address once Serve has started, or
// nil beforehand. Intended for tests that bind to ":0" and need the
// OS-assigned port.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// buildTLSConfig assembles a *tls.Config from the first virtual server
// on this listener that names a cert/key pair. Per §4.11 step 1, a
// listener either negotiates TLS for all its virtual servers or none:
// that first pair is used for every server sharing the address, and a
// mix of TLS and non-TLS servers on one address is not rejected.
func (l *Listener) buildTLSConfig() *tls.Config {
	for _, vs := range l.Servers {
		if vs.TLS == nil || vs.TLS.CertPath == "" {
			continue
		}
		cert, err := tls.LoadX509KeyPair(vs.TLS.CertPath, vs.TLS.KeyPath)
		if err != nil {
			if l.Log != nil {
				l.Log.Errorf("tls: loading %s/%s: %v", vs.TLS.CertPath, vs.TLS.KeyPath, err)
			}
			return nil
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return nil
}

// serveConn drives one accepted connection through as many
// request/response cycles as keep-alive allows.
func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()

	connID := logging.NewConnectionID()
	remoteAddr := conn.RemoteAddr().String()
	remoteHost, _, _ := net.SplitHostPort(remoteAddr)
	_, serverPort, _ := net.SplitHostPort(l.Address)

	reader := message.NewReader(conn, conn)
	writer := message.NewWriter(conn, conn)

	for {
		req, err := reader.ReadRequest(writer)
		if err != nil {
			l.sendParseError(writer, err)
			return
		}

		vs := l.selectVirtualServer(req.Header.GetOne("Host"))
		if vs == nil {
			return
		}

		env := respond.Env{RemoteAddr: remoteAddr, RemoteHost: remoteHost, ServerPort: serverPort}
		out := respond.Generate(vs, req, env, l.Log)

		close := l.sendAndDecideClose(writer, req, out)
		if out.Kind == respond.KindResponse && out.Message != nil {
			out.Message.Body.Close()
		}
		l.logAccess(vs, req, out, connID, remoteHost)
		if close {
			return
		}
	}
}

// selectVirtualServer matches host against every server sharing this
// listener's address, honoring "*" as a wildcard (§4.11 step 3).
func (l *Listener) selectVirtualServer(host string) *config.VirtualServer {
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, vs := range l.Servers {
		if vs.MatchesHost(host) {
			return vs
		}
	}
	return nil
}

// sendAndDecideClose writes out's payload and applies §4.11 step 3's
// close rules: explicit Connection: close, a pre-1.1 request without
// explicit keep-alive, or any write failure.
func (l *Listener) sendAndDecideClose(writer *message.Writer, req *message.Request, out *respond.Output) bool {
	if out.Kind == respond.KindBytes {
		if _, err := writer.RawWrite(out.Bytes); err != nil {
			return true
		}
		return out.Close
	}

	resp := out.Message
	if resp.Version < message.HTTP11 && !hasKeepAlive(req) {
		resp.Header.SetOne("Connection", "close")
	}
	if connHeader := resp.Header.GetOne("Connection"); strings.EqualFold(connHeader, "close") {
		out.Close = true
	}

	if err := writer.WriteResponse(resp); err != nil {
		return true
	}
	if resp.Version < message.HTTP11 && !hasKeepAlive(req) {
		return true
	}
	return out.Close
}

func hasKeepAlive(req *message.Request) bool {
	return strings.EqualFold(req.Header.GetOne("Connection"), "keep-alive")
}

func (l *Listener) logAccess(vs *config.VirtualServer, req *message.Request, out *respond.Output, connID, host string) {
	if l.Log == nil {
		return
	}
	status := 0
	if out.Message != nil {
		status = out.Message.Status
	}
	if status == 408 {
		return
	}
	l.Log.Access(logging.AccessEntry{
		Status:        status,
		Method:        req.Method,
		RawTarget:     out.RawTarget,
		RoutedTarget:  out.RoutedTarget,
		UsedBasicAuth: out.UsedBasicAuth,
		Host:          host,
		ConnectionID:  connID,
	})
}

// sendParseError translates a C3 parse error to a status per §7 and
// sends a bare status line; §7's EndOfStream case sends nothing.
func (l *Listener) sendParseError(writer *message.Writer, err error) {
	if errors.Is(err, message.ErrEndOfStream) {
		return
	}
	code, ok := parseErrorStatus[err]
	if !ok {
		code = 400
	}
	writer.WriteStatusOnly(message.HTTP11, code)
}

var parseErrorStatus = map[error]int{
	message.ErrURITooLong:                 414,
	message.ErrUnsupportedVersion:         505,
	message.ErrHeaderTooLong:              431,
	message.ErrInvalidExpectHeader:        417,
	message.ErrUnsupportedTransferEncoding: 501,
	message.ErrBodyTooLarge:               413,
	message.ErrTimedOut:                   408,
	message.ErrUnsupportedMethod:          400,
	message.ErrInvalidURI:                 400,
	message.ErrInvalidHeader:              400,
	message.ErrNoHostHeader:               400,
	message.ErrInvalidBody:                400,
}
