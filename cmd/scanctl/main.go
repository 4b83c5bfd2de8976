package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danmuck/scanctl/internal/api"
	"github.com/danmuck/scanctl/internal/catalog"
	"github.com/danmuck/scanctl/internal/logging"
	"github.com/danmuck/scanctl/internal/scheduler"
	"github.com/danmuck/scanctl/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// terminateTimeout bounds killing tools left over after the drain timeout.
const terminateTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to scanctl TOML config")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := DefaultServiceConfig()
	if configPath != "" {
		loaded, err := loadServiceConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		cfg.CatalogPath = resolveRelative(configPath, cfg.CatalogPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	return svc.serve(ctx)
}

type service struct {
	cfg    ServiceConfig
	sched  *scheduler.Scheduler
	server *api.Server
}

func newService(cfg ServiceConfig) (*service, error) {
	reg, err := catalog.Load(cfg.CatalogPath, catalog.Options{
		DefaultTimeout: cfg.DefaultTimeout,
		Sandbox:        tools.NewDockerSandbox(cfg.DockerBinary),
	})
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	return &service{
		cfg:    cfg,
		sched:  sched,
		server: api.New(cfg.API, sched, reg),
	}, nil
}

// serve runs the scheduler loop and the API until ctx ends, then stops the
// loop and waits for launched tools within the drain timeout.
func (s *service) serve(ctx context.Context) error {
	s.sched.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msgf("scanctl.service.serve shutdown signal")
	case serveErr = <-errCh:
		log.Error().Msgf("scanctl.service.serve api exited err=%v", serveErr)
	}

	s.sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Msgf("scanctl.service.serve api shutdown err=%v", err)
	}
	<-s.sched.Done()
	if err := s.sched.Drain(shutdownCtx); err != nil {
		log.Warn().Msgf(
			"scanctl.service.serve drain incomplete pending=%d running=%d err=%v",
			s.sched.PendingLen(),
			s.sched.RunningLen(),
			err,
		)
		// tools run in their own process groups and would outlive the daemon
		killCtx, killCancel := context.WithTimeout(context.Background(), terminateTimeout)
		stopped := s.sched.TerminateRunning(killCtx)
		if err := s.sched.Drain(killCtx); err != nil {
			log.Error().Msgf("scanctl.service.serve tools still running after terminate err=%v", err)
		}
		killCancel()
		log.Warn().Msgf("scanctl.service.serve terminated tools=%d", stopped)
	}
	log.Info().Msgf("scanctl.service.serve stopped")
	return serveErr
}

// resolveRelative interprets a catalog path relative to the config file.
func resolveRelative(configPath, target string) string {
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
