// oucollectord is the collector coordinator (§5, §6): given a
// postmaster PID, it discovers its fixed background workers (checkpointer,
// background writer, WAL writer), attaches per-OU BPF programs to those
// three processes, and routes completed records to the configured output
// sink. The postmaster itself is not attached, and no postmaster fork/reap
// event source is wired in, so backends forked later are not attached.
//
// Exit codes (§6): 0 clean shutdown, 1 attach failure, 2
// schema-parse failure, 3 output-sink failure.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"os/signal"

	_ "github.com/lib/pq"

	"github.com/cmu-db/oucore/internal/collector"
	"github.com/cmu-db/oucore/internal/collector/bpf"
	"github.com/cmu-db/oucore/internal/collector/simulate"
	"github.com/cmu-db/oucore/internal/coordinator/attach"
	"github.com/cmu-db/oucore/internal/coordinator/discover"
	"github.com/cmu-db/oucore/internal/coordinator/httpapi"
	"github.com/cmu-db/oucore/internal/coordinator/router"
	"github.com/cmu-db/oucore/internal/coordinator/sink/csvsink"
	"github.com/cmu-db/oucore/internal/ou"
	"github.com/cmu-db/oucore/internal/ouconfig"
	"github.com/cmu-db/oucore/internal/output"
	"github.com/cmu-db/oucore/internal/scheduler"
	"github.com/cmu-db/oucore/internal/telemetrylog"
)

const (
	exitOK            = 0
	exitAttachFailure = 1
	exitSchemaFailure = 2
	exitSinkFailure   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	pid := flag.Int("pid", 0, "postmaster PID to attach to")
	configPath := flag.String("config", "oucore.conf", "path to the oucore ini configuration file")
	outDir := flag.String("outdir", "./oucollector-out", "directory the CSV reference sink writes into")
	httpAddr := flag.String("http", ":9930", "address to serve /healthz and /metrics/drops on")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	simulateMode := flag.Bool("simulate", false, "drive the state machine with synthetic events instead of attaching BPF programs, for demos without kernel privileges")
	bpfDir := flag.String("bpfdir", "./bpf-objects", "directory holding the per-OU compiled BPF objects emitted by internal/coordinator/codegen")
	postgresBin := flag.String("postgres-bin", "postgres", "path to the postgres binary carrying the USDT probes BPF programs attach to")
	flag.Parse()

	logger := telemetrylog.New(*verbose).WithPrefix("oucollectord")

	conf, err := ouconfig.Read(logger, *configPath)
	if err != nil {
		logger.PrintError("failed to load configuration: %s", err)
		return exitSchemaFailure
	}
	conf.TargetPostmasterPID = *pid

	catalog, err := builtinCatalog()
	if err != nil {
		logger.PrintError("failed to build OU catalog: %s", err)
		return exitSchemaFailure
	}

	csvSink, err := csvsink.New(*outDir, catalog)
	if err != nil {
		logger.PrintError("failed to open output sink: %s", err)
		return exitSinkFailure
	}
	defer csvSink.Close()

	var outSink collector.Sink = csvSink
	if conf.OutputNoisepage && conf.DatabaseURL != "" {
		db, err := sql.Open("postgres", conf.DatabaseURL)
		if err != nil {
			logger.PrintError("failed to open database for table sink: %s", err)
			return exitSinkFailure
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := output.EnsureSchema(ctx, db); err != nil {
			cancel()
			logger.PrintError("failed to ensure collector_output schema: %s", err)
			return exitSinkFailure
		}
		cancel()
		outSink = output.NewMultiSink(csvSink, output.NewTableSink(db))
		logger.PrintInfo("noisepage table sink enabled at %s, chained behind the CSV reference sink", conf.DatabaseURL)
	}

	rtr := router.New(outSink, logger)
	defer rtr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groups, err := scheduler.GetSchedulerGroups()
	if err != nil {
		logger.PrintError("failed to build scheduler groups: %s", err)
		return exitAttachFailure
	}
	stopFlush := groups["drop_counter_flush"].Schedule(func() {
		logger.PrintVerbose("drop counter snapshot: %v", csvSink.DropCounts())
	}, logger, "drop_counter_flush")
	defer close(stopFlush)

	httpSrv := httpapi.New(func() httpapi.Status {
		drops := csvSink.DropCounts()
		named := make(map[string]int, len(drops))
		for idx, n := range drops {
			if s, ok := catalog.ByIndex(idx); ok {
				named[s.Name] = n
			}
		}
		return httpapi.Status{Healthy: true, DropCounts: named}
	}, catalog)
	httpServer := &http.Server{Addr: *httpAddr, Handler: httpSrv}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.PrintWarning("http api stopped: %s", err)
		}
	}()
	defer httpServer.Close()

	if *simulateMode {
		logger.PrintInfo("running in -simulate mode, no BPF attach performed")
		runSimulateDemo(ctx, rtr, logger)
		return exitOK
	}

	if *pid == 0 {
		logger.PrintError("-pid is required outside of -simulate mode")
		return exitAttachFailure
	}

	inst, err := discover.Discover(int32(*pid))
	if err != nil {
		logger.PrintError("failed to discover postmaster %d: %s", *pid, err)
		return exitAttachFailure
	}
	logger.PrintInfo("attached to postmaster %d (checkpointer=%d bgwriter=%d walwriter=%d)",
		inst.PostmasterPID, inst.CheckpointerPID, inst.BGWriterPID, inst.WALWriterPID)

	mgr := attach.NewManager(bpfLoader(catalog, rtr, *bpfDir, *postgresBin, logger), logger)
	defer mgr.Shutdown()

	for _, childPID := range []int32{inst.CheckpointerPID, inst.BGWriterPID, inst.WALWriterPID} {
		if err := mgr.HandleEvent(attach.PostmasterEvent{Kind: attach.EventForkBackground, ChildPID: childPID}); err != nil {
			logger.PrintError("failed to attach collector for pid %d: %s", childPID, err)
			return exitAttachFailure
		}
	}

	<-ctx.Done()
	logger.PrintInfo("shutting down")
	return exitOK
}

// bpfLoader builds the attach.Loader that attaches every cataloged OU's
// compiled BPF object to a freshly-forked or already-running backend pid,
// publishing decoded records into sink. Object paths follow
// internal/coordinator/codegen's one-object-per-OU output convention:
// <bpfDir>/<OU name>.bpf.o, with a program named after the OU and a ring
// buffer map named "events".
func bpfLoader(catalog *ou.Catalog, sink collector.Sink, bpfDir, postgresBin string, logger *telemetrylog.Logger) attach.Loader {
	return func(pid int32, socketFD int32) ([]*bpf.Attachment, error) {
		schemas := catalog.All()
		attachments := make([]*bpf.Attachment, 0, len(schemas))
		for _, schema := range schemas {
			a, err := bpf.Attach(bpf.LoadOptions{
				OUIndex:         schema.Index,
				ObjectPath:      fmt.Sprintf("%s/%s.bpf.o", bpfDir, schema.Name),
				ProgramName:     schema.Name,
				MapName:         "events",
				TargetPID:       int(pid),
				Binary:          postgresBin,
				HasClientSocket: schema.HasClientSocket,
			}, sink, func() int64 { return time.Now().UnixMicro() }, logger)
			if err != nil {
				for _, done := range attachments {
					done.Close()
				}
				return nil, err
			}
			attachments = append(attachments, a)
		}
		return attachments, nil
	}
}

// builtinCatalog is the OU schema set shipped with this build; a real
// deployment would instead run internal/coordinator/schema's parser over
// the target's execnodes.h and generate this at build time.
func builtinCatalog() (*ou.Catalog, error) {
	return ou.NewCatalog([]ou.Schema{
		{Index: 0, Name: "SeqScan", Features: []ou.Field{{Name: "relid", Type: ou.Int32}}},
		{Index: 1, Name: "IndexScan", Features: []ou.Field{{Name: "relid", Type: ou.Int32}, {Name: "indexid", Type: ou.Int32}}},
		{Index: 2, Name: "Gather", Features: []ou.Field{{Name: "num_workers", Type: ou.Int32}}, HasClientSocket: true},
	})
}

// runSimulateDemo drives a handful of synthetic BEGIN/END/FEATURES/FLUSH
// cycles through internal/collector/simulate, publishing into rtr so
// -simulate mode exercises the same router-to-csvSink (and, if enabled,
// table sink) path the real BPF attach path uses - it has something to show
// without root or a running Postgres, but the output side is not a toy.
func runSimulateDemo(ctx context.Context, rtr *router.Router, logger *telemetrylog.Logger) {
	engine := simulate.NewEngineWithSink(rtr, 0)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var n int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			engine.Begin(0, ou.PlanNodeID(n), collector.Counters{CPUCycles: 0})
			engine.Clock.Advance(500)
			engine.Features(0, ou.PlanNodeID(n), map[string]any{"relid": n})
			engine.End(0, ou.PlanNodeID(n), collector.Counters{CPUCycles: 1000}, 0, int32(os.Getpid()))
			engine.Flush(0, ou.PlanNodeID(n), int32(os.Getpid()))
			logger.PrintVerbose("simulate: published %d records so far", n)
		}
	}
}
