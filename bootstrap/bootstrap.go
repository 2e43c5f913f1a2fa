// Package bootstrap sequences process startup: load configuration, bring up
// logging, load the API Model Registry, open the database connection and
// wire the service pipeline, then start serving. Mirrors the teacher's
// Bootstrap()/Register(...)-then-Init() sequential-initializer pattern,
// trimmed to the subsystems this gateway actually has (SPEC_FULL.md §10).
package bootstrap

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/internal/apimodel"
	pkgzap "github.com/forbearing/querygate/logger/zap"
	"github.com/forbearing/querygate/middleware"
	"github.com/forbearing/querygate/router"
	"github.com/forbearing/querygate/service"
)

var (
	initialized bool
	mu          sync.Mutex

	stopWatch func()
)

// Bootstrap runs every registered init function exactly once, in the order
// that makes each subsystem's dependencies available to the next:
// configuration before logging, logging before anything that logs, the API
// Model Registry before the service pipeline (which needs a resolved
// dialect and, soon, entity schemas to serve requests against), and the
// router last, since it reads the registry to generate routes.
func Bootstrap() error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	Register(
		config.Init,
		pkgzap.Init,
		specDocumentInit,
		service.Init,
		middleware.Init,
		router.Init,
	)
	if err := Init(); err != nil {
		return err
	}

	RegisterCleanup(pkgzap.Sync)
	RegisterCleanup(config.Clean)
	RegisterCleanup(stopSpecWatch)

	initialized = true
	return nil
}

// specDocumentInit loads the spec document named by config.App.SpecDocument
// and, if configured, starts its hot-reload watch (spec.md §4.1, §5).
func specDocumentInit() error {
	if err := apimodel.Init(config.App.SpecDocument.Path); err != nil {
		return err
	}
	if config.App.SpecDocument.WatchFile {
		stop, err := apimodel.WatchFile(config.App.SpecDocument.Path)
		if err != nil {
			return err
		}
		stopWatch = stop
	}
	return nil
}

func stopSpecWatch() {
	if stopWatch != nil {
		stopWatch()
	}
}

// Run starts the HTTP server and blocks until it stops or a shutdown signal arrives.
func Run() error {
	defer Cleanup()

	RegisterGo(router.Run)
	RegisterCleanup(router.Stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	errCh := make(chan error, 1)

	go func() { errCh <- Go() }()
	select {
	case sig := <-sigCh:
		zap.S().Infow("gateway shutting down", "signal", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
