// Command staticd starts one or more virtual servers from YAML config
// files named on the command line (§6.5, §4.15).
//
// Grounded on the teacher's cmd/server.go (construct a server, call Run)
// generalized to multi-file config loading, multi-listener grouping by
// address, and a signal-driven graceful stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/curol/staticd/internal/config"
	"github.com/curol/staticd/internal/connserve"
	"github.com/curol/staticd/internal/logging"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: staticd config.yaml [config2.yaml ...]")
		return 1
	}

	servers, err := config.Load(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "staticd: %v\n", err)
		return 1
	}

	log, err := loggerFor(servers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "staticd: %v\n", err)
		return 1
	}

	groups := config.GroupByAddress(servers)
	stop := make(chan struct{})
	listeners := make([]*connserve.Listener, 0, len(groups))
	for address, group := range groups {
		l := &connserve.Listener{Address: address, Servers: group, Log: log}
		listeners = append(listeners, l)
	}

	var wg sync.WaitGroup
	var startErr error
	var startErrOnce sync.Once
	for _, l := range listeners {
		wg.Add(1)
		go func(l *connserve.Listener) {
			defer wg.Done()
			if err := l.Serve(stop); err != nil {
				startErrOnce.Do(func() { startErr = err })
				log.Errorf("listener %s: %v", l.Address, err)
			}
		}(l)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	wg.Wait()
	log.Sync()
	if startErr != nil {
		return 1
	}
	return 0
}

// loggerFor picks the first virtual server's Log config as the
// process-wide logger shared by every listener; the Log settings of the
// remaining virtual servers are not applied.
func loggerFor(servers []*config.VirtualServer) (logging.Logger, error) {
	cfg := logging.Config{Level: "info", Format: "console"}
	for _, vs := range servers {
		if vs.Log != nil {
			cfg = logging.Config{
				Level:         vs.Log.Level,
				Format:        vs.Log.Format,
				AccessLogPath: vs.Log.AccessLogPath,
			}
			break
		}
	}
	return logging.New(cfg)
}
