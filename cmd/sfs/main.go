// Command sfs mounts a stackable, pass-through FUSE filesystem at
// mountpoint backed by rootdir, publishing every successful mutation
// as a durable change batch for out-of-band replication (spec §1).
//
// Grounded on cmd/rrr-server/main.go's shape: kong CLI parsing,
// go.ntppool.org/common/logger for structured logging,
// go.ntppool.org/common/metricsserver plus a custom Prometheus
// registry, and a signal-driven graceful-shutdown sequence.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hanwen/go-fuse/v2/fs"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/metricsserver"
	"go.ntppool.org/common/version"

	"github.com/immofs/sfs/internal/batch"
	"github.com/immofs/sfs/internal/clock"
	"github.com/immofs/sfs/internal/config"
	"github.com/immofs/sfs/internal/event"
	"github.com/immofs/sfs/internal/exitcode"
	"github.com/immofs/sfs/internal/metrics"
	"github.com/immofs/sfs/internal/passthrough"
	"github.com/immofs/sfs/internal/pidfile"
	"github.com/immofs/sfs/internal/privilege"
	"github.com/immofs/sfs/internal/recovery"
)

// CLI defines the command-line interface for sfs.
type CLI struct {
	Rootdir    string `arg:"" help:"Directory whose contents are exposed, read through, and watched." type:"path"`
	Mountpoint string `arg:"" help:"Where to mount the pass-through filesystem." type:"path"`

	SfsUID  int  `name:"sfs-uid" help:"Uid option; must be given together with --sfs-gid. The process does not change its uid."`
	SfsGID  int  `name:"sfs-gid" help:"Gid option; must be given together with --sfs-uid. The process does not change its gid."`
	Perms   bool `name:"perms" help:"Enforce per-request uid/gid permission checks instead of relying on mode bits."`

	MetricsPort int    `default:"9100" help:"Port for the Prometheus metrics server."`
	LogLevel    string `default:"info" help:"Log level (debug, info, warn, error)."`
	Debug       bool   `help:"Enable verbose FUSE debug logging."`

	SkipRecovery bool `help:"Skip startup recovery of staging residue (not recommended)."`

	Version kong.VersionFlag `short:"V" help:"Show version."`
}

func main() {
	var cli CLI

	kctx := kong.Parse(&cli,
		kong.Name("sfs"),
		kong.Description("Stackable pass-through filesystem publishing change batches for replication"),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version()},
	)

	if cli.Debug {
		os.Setenv("LOG_LEVEL", "DEBUG")
	} else if cli.LogLevel != "" {
		os.Setenv("LOG_LEVEL", cli.LogLevel)
	}

	log := logger.Setup()

	code, err := run(context.Background(), &cli, log)
	if err != nil {
		log.Error("fatal error", "error", err)
	}
	if code != exitcode.OK {
		kctx.Exit(code)
	}
}

func run(ctx context.Context, cli *CLI, log *slog.Logger) (int, error) {
	rootdir, err := filepath.Abs(cli.Rootdir)
	if err != nil {
		return exitcode.RootNotDirectory, fmt.Errorf("resolve rootdir: %w", err)
	}
	fi, err := os.Stat(rootdir)
	if err != nil || !fi.IsDir() {
		return exitcode.RootNotDirectory, fmt.Errorf("rootdir %s is not a directory", rootdir)
	}

	if (cli.SfsUID != 0 || cli.SfsGID != 0) && (cli.SfsUID == 0 || cli.SfsGID == 0) {
		return exitcode.RootNotDirectory, fmt.Errorf("sfs-uid and sfs-gid must both be set")
	}

	configPath := filepath.Join(rootdir, ".sfs.conf")
	if _, err := filepath.EvalSymlinks(configPath); err != nil {
		return exitcode.ConfigPathResolve, fmt.Errorf("resolve config path %s: %w", configPath, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitcode.ConfigLoad, fmt.Errorf("load config %s: %w", configPath, err)
	}
	snap := cfg.Snapshot()

	log.Info("starting sfs",
		"version", version.Version(),
		"rootdir", rootdir,
		"mountpoint", cli.Mountpoint,
		"batch_dir", snap.BatchDir,
		"batch_tmp_dir", snap.BatchTmpDir,
		"node_name", snap.NodeName,
		"metrics_port", cli.MetricsPort,
	)

	metricsSrv := metricsserver.New()
	m := metrics.New()
	m.Register(metricsSrv.Registry())

	go func() {
		log.Info("metrics server starting", "port", cli.MetricsPort)
		if err := metricsSrv.ListenAndServe(ctx, cli.MetricsPort); err != nil {
			log.Error("metrics server error", "error", err)
		}
	}()

	if !cli.SkipRecovery {
		result, err := recovery.Run(snap.BatchTmpDir, snap.BatchDir, m)
		if err != nil {
			return recoveryExitCode(err), fmt.Errorf("startup recovery: %w", err)
		}
		log.Info("startup recovery complete", "promoted", len(result.Promoted))
	} else {
		log.Warn("skipping startup recovery")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = snap.NodeName
	}

	clk := &clock.Clock{}
	writer := batch.New(
		snap.BatchTmpDir, snap.BatchDir,
		batch.Identity{NodeName: snap.NodeName, Hostname: hostname, PID: os.Getpid()},
		batch.Thresholds{MaxEvents: snap.BatchMaxEvents, MaxBytes: snap.BatchMaxBytes},
		clk,
		batch.WithOSync(snap.UseOSync),
		batch.WithLogger(log),
		batch.WithMetrics(m),
	)

	flushTimer := batch.NewFlushTimer(writer, time.Duration(snap.BatchFlushMsec)*time.Millisecond, log)
	flushCtx, cancelFlush := context.WithCancel(ctx)
	go flushTimer.Run(flushCtx)

	pf, err := pidfile.Acquire(snap.PidPath)
	if err != nil {
		cancelFlush()
		return exitcode.BatchMutexInit, fmt.Errorf("acquire pidfile: %w", err)
	}

	pipeline := &writerPipeline{writer: writer, cfg: cfg, configPath: configPath, log: log, metrics: m}
	sw := privilege.NewSwitcher(cli.Perms, fileModeUmask())

	root, err := passthrough.NewRoot(rootdir, pipeline, cfg, sw)
	if err != nil {
		pf.Release()
		cancelFlush()
		return exitcode.RootNotDirectory, fmt.Errorf("build passthrough root: %w", err)
	}

	sec := time.Second
	server, err := fs.Mount(cli.Mountpoint, root, &fs.Options{
		AttrTimeout:  &sec,
		EntryTimeout: &sec,
		MountOptions: newMountOptions(cli),
	})
	if err != nil {
		pf.Release()
		cancelFlush()
		return exitcode.RootNotDirectory, fmt.Errorf("mount %s: %w", cli.Mountpoint, err)
	}

	log.Info("mounted", "mountpoint", cli.Mountpoint)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig.String())
		server.Unmount()
	}()

	server.Wait()

	cancelFlush()
	<-flushTimer.Stopped()

	if err := writer.Rotate(); err != nil {
		log.Error("final rotate failed", "error", err)
	}

	if err := pf.Release(); err != nil {
		log.Error("release pidfile failed", "error", err)
	}

	log.Info("shutdown complete")
	return exitcode.OK, nil
}

// writerPipeline adapts batch.Writer and config.Config to
// passthrough.Pipeline.
type writerPipeline struct {
	writer     *batch.Writer
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	metrics    *metrics.Metrics
}

func (p *writerPipeline) Submit(path string, mode event.Mode) error {
	return p.writer.SubmitEvent(path, mode)
}

func (p *writerPipeline) ReportSuppressed(reason string) {
	p.metrics.EventsSuppressed.WithLabelValues(reason).Inc()
}

func (p *writerPipeline) ReloadConfig() {
	if err := p.cfg.Reload(p.configPath); err != nil {
		p.log.Error("config reload failed, retaining previous config", "error", err)
		p.metrics.ConfigReloads.WithLabelValues("failure").Inc()
		return
	}
	p.metrics.ConfigReloads.WithLabelValues("success").Inc()
	p.log.Info("config reloaded")
}

// recoveryExitCode maps one of recovery.Run's sentinel causes to its
// own exitcode constant, so distinct startup failures surface distinct
// supervisor-observable codes instead of collapsing onto one.
func recoveryExitCode(err error) int {
	switch {
	case errors.Is(err, recovery.ErrStagingDirOpen):
		return exitcode.StagingDirOpen
	case errors.Is(err, recovery.ErrPathBuild):
		return exitcode.RecoveryPathBuild
	case errors.Is(err, recovery.ErrOutboxPathBuild):
		return exitcode.RecoveryOutboxPathBuild
	default:
		return exitcode.RecoveryRename
	}
}

func fileModeUmask() uint32 {
	mask := syscall.Umask(0)
	syscall.Umask(mask)
	return uint32(mask)
}
