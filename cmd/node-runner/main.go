// Command node-runner is a minimal example of a dataflow node process: it
// connects to the local daemon's Unix domain socket, subscribes to its
// event stream, and logs every event until end-of-stream. Real dataflow
// nodes embed package node directly; this binary exists to exercise it
// end-to-end and to double as a manual smoke-test harness.
//
// Structured the way the teacher's controller/cmd/* binaries are: parse
// flags via pkg/flags, start an admin server in the background, run the
// main loop, shut down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/linkerd/node-runtime/droptoken"
	"github.com/linkerd/node-runtime/eventpump"
	"github.com/linkerd/node-runtime/eventstream"
	"github.com/linkerd/node-runtime/ids"
	"github.com/linkerd/node-runtime/node"
	"github.com/linkerd/node-runtime/pkg/admin"
	"github.com/linkerd/node-runtime/pkg/flags"
	"github.com/linkerd/node-runtime/shmem"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	cmd := flag.NewFlagSet("node-runner", flag.ExitOnError)

	socketPath := cmd.String("daemon-socket", "/run/dora/daemon.sock", "path to the local daemon's Unix domain socket")
	dataflowIDFlag := cmd.String("dataflow-id", "", "dataflow id to subscribe to (required)")
	nodeIDFlag := cmd.String("node-id", "", "node id to subscribe as (required)")
	adminAddr := cmd.String("admin-addr", ":9999", "address to serve the admin HTTP server on")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	journalPath := cmd.String("drop-token-journal", "", "optional path to a SQLite drop-token journal for crash durability")

	flags.ConfigureAndParse(cmd, os.Args[1:])

	if *dataflowIDFlag == "" || *nodeIDFlag == "" {
		log.Fatal("-dataflow-id and -node-id are required")
	}
	dataflowID, err := ids.ParseDataflowId(*dataflowIDFlag)
	if err != nil {
		log.Fatalf("invalid -dataflow-id: %s", err)
	}
	nodeID := ids.NodeId(*nodeIDFlag)

	var journal *droptoken.Journal
	if *journalPath != "" {
		journal, err = droptoken.OpenJournal(*journalPath)
		if err != nil {
			log.Fatalf("failed to open drop token journal: %s", err)
		}
		defer journal.Close()
	}

	segments := shmem.NewRegistry()
	stopWatch, err := segments.WatchDir()
	if err != nil {
		log.WithError(err).Warn("failed to watch shared memory directory, continuing without it")
	} else {
		defer stopWatch()
	}

	conn, err := net.Dial("unix", *socketPath)
	if err != nil {
		log.Fatalf("failed to connect to daemon at %s: %s", *socketPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.OpenEventStream(ctx, conn, dataflowID, nodeID, node.Options{
		Pump:            eventpump.Options{},
		Journal:         journal,
		SegmentRegistry: segments,
	})
	if err != nil {
		log.Fatalf("failed to open event stream: %s", err)
	}
	defer n.Close()

	ready := true
	adminServer := admin.NewServer(*adminAddr, *enablePprof, segments, n.Ledger(), &ready)
	go func() {
		log.Infof("starting admin server on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("admin server error")
		}
	}()
	defer adminServer.Shutdown(context.Background())

	go logFinishedDropTokens(n)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runEventLoop(ctx, n)
	}()

	select {
	case <-done:
		log.Info("event stream ended")
	case <-stop:
		log.Info("received shutdown signal")
	}
}

func runEventLoop(ctx context.Context, n *node.Node) {
	for {
		ev, ok := n.Stream().Recv(ctx)
		if !ok {
			return
		}
		logEvent(ev)
		ev.Release()
	}
}

func logEvent(ev *eventstream.Event) {
	entry := log.WithField("kind", ev.Kind)
	switch ev.Kind {
	case eventstream.KindInput:
		entry.WithField("id", ev.ID).WithField("data_kind", ev.Data.Kind).Info("input")
	case eventstream.KindInputClosed:
		entry.WithField("id", ev.ID).Info("input closed")
	case eventstream.KindReload:
		entry.WithField("operator_id", ev.OperatorID).Info("reload")
	case eventstream.KindStop:
		entry.Info("stop")
	case eventstream.KindError:
		entry.WithField("error", ev.Err).Error("event stream error")
	default:
		entry.Warn("unrecognized event kind")
	}
}

func logFinishedDropTokens(n *node.Node) {
	for tok := range n.FinishedDropTokens() {
		log.WithField("drop_token", tok).Debug("output drop token finished")
	}
}
