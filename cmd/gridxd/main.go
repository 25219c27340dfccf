// Command gridxd is the Grid-X coordinator daemon: it opens the Store,
// wires the Worker Registry, Credit Engine, Scheduler and Watchdog
// together, and serves the HTTP Surface and worker websocket channel on
// their configured ports until interrupted.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/NebulousLabs/errors"

	"github.com/gridx-labs/coordinator/internal/api"
	"github.com/gridx-labs/coordinator/internal/build"
	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/credit"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/registry"
	"github.com/gridx-labs/coordinator/internal/scheduler"
	"github.com/gridx-labs/coordinator/internal/store"
	"github.com/gridx-labs/coordinator/internal/wsconn"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gridxd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := persist.NewFromLevel(cfg.LogLevel, cfg.LogFile)
	log.Infof("starting gridxd (%s release), db=%s http=%d ws=%d", build.Release, cfg.DBPath, cfg.HTTPPort, cfg.WSPort)

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return errors.AddContext(err, "unable to open store")
	}
	defer st.Close()

	reg := registry.New()
	credits := credit.New(st, cfg, log)
	sched := scheduler.New(st, reg, credits, log, time.Duration(cfg.CheckInterval)*time.Second, time.Duration(cfg.HeartbeatTimeout)*time.Second)

	if err := requeueOrphansAtStartup(st, sched, log); err != nil {
		log.Warnf("startup requeue scan failed: %v", err)
	}
	if err := sched.Start(); err != nil {
		return errors.AddContext(err, "unable to start scheduler")
	}
	defer sched.Close()

	httpAPI := api.New(st, reg, credits, sched, cfg, log)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpAPI.Handler(),
	}

	wsSrv := wsconn.NewServer(st, reg, sched, cfg, log)
	wsHTTPSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WSPort),
		Handler: wsSrv.Handler(),
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- wsHTTPSrv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received signal %v, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}

	_ = httpSrv.Close()
	_ = wsHTTPSrv.Close()
	return nil
}

// requeueOrphansAtStartup resets any job left in status=running from a
// previous process into the queue: with no live sessions at all right
// after a restart, every running job is by definition orphaned, and this
// recovers them immediately rather than waiting a full check_interval for
// the Watchdog to notice.
func requeueOrphansAtStartup(st *store.Store, sched *scheduler.Scheduler, log *persist.Logger) error {
	running, err := st.ListRunningJobs()
	if err != nil {
		return err
	}
	for _, job := range running {
		if err := sched.Requeue(job.ID); err != nil {
			log.Warnf("startup requeue of job %s failed: %v", job.ID, err)
			continue
		}
		log.Infof("startup: requeued orphaned job %s", job.ID)
	}
	return nil
}
