package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"sync"
	"syscall"

	dig_container "github.com/trezcool/suriaral/apps/api/di/dig"
	echoapi "github.com/trezcool/suriaral/apps/api/echo"
	"github.com/trezcool/suriaral/apps/api/jobs"
	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/account"
	"github.com/trezcool/suriaral/core/authz"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/services/events"
)

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		storage *dig_container.Storage,
		publisher core.EventPublisher,
		sessions *authz.Sessions,
		accountSvc *account.Service,
		shutdown dig_container.ShutdownSignal,
		server echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		logger.Info(fmt.Sprintf("Application initializing : version %q, storage %q", conf.Build, conf.StorageDriver))

		core.ParseEmailTemplates(logger)
		identity.LoadCommonPasswords(logger)

		defer func() {
			if err := storage.Close(); err != nil {
				logger.Error("closing storage", err)
			}
		}()
		defer func() {
			if closer, ok := publisher.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					logger.Error("closing event publisher", err)
				}
			}
		}()
		defer sessions.Close()
		defer logger.Info("Application stopped")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var workers sync.WaitGroup
		defer workers.Wait()

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start Workers

		if conf.Access.SweepEnabled {
			sweep := jobs.NewFacultySweep(accountSvc, conf.Access, logger)
			workers.Add(1)
			go func() {
				defer workers.Done()
				sweep.Run(ctx)
			}()
		}

		eviction := jobs.NewSessionEviction(sessions, conf.Access, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			eviction.Run(ctx)
		}()

		if conf.AMQP.Enabled {
			consumer := events.NewConsumer(conf, events.NewAccountHandler(accountSvc, logger), logger)
			workers.Add(1)
			go func() {
				defer workers.Done()
				if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error(fmt.Sprintf("event consumer stopped: %v", err), err)
				}
			}()
		}

		// =========================================================================
		// Start API Service

		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address))
			serverErrors <- server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-serverErrors:
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-shutdown:
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
			cancel()

			// give outstanding requests a deadline for completion
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancelShutdown()

			if err := server.Stop(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatalf("%+v", err)
	}
}
