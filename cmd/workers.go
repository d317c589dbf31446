/*
Copyright 2024 ECP Indexer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ecp-indexer/relay/config"
	"github.com/ecp-indexer/relay/database"
	"github.com/ecp-indexer/relay/internal/metrics"
	"github.com/ecp-indexer/relay/internal/notification"
	pglistener "github.com/ecp-indexer/relay/internal/pg-listener"
	"github.com/ecp-indexer/relay/internal/traces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

const (
	loopEventFanOut        = "event-fanout"
	loopNotificationFanOut = "notification-fanout"
	loopDelivery           = "delivery"

	shutdownTimeout = 10 * time.Second
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func workerCommands(app *relayInstance) *cobra.Command {
	var loops []string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start the fan-out and delivery workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := runWorkers(ctx, app, loops)
			if err != nil {
				notifyCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				notification.NotifyError(notifyCtx, err)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&loops, "loops",
		[]string{loopEventFanOut, loopNotificationFanOut, loopDelivery},
		"loops to run in this process")
	return cmd
}

// runWorkers starts the selected loops, their LISTEN connection and the monitoring
// server. The first failure stops everything else.
func runWorkers(ctx context.Context, app *relayInstance, loops []string) error {
	cnf := app.cnf

	if cnf.Tracing.Enabled {
		shutdown, err := traces.SetupOTelSDK(ctx, cnf.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("error setting up OTel SDK: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Warn("error shutting down tracing")
			}
		}()
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	listener := pglistener.NewDBListener(pglistener.ListenerConfig{PgConnStr: cnf.DataSource.Dns})
	g, gctx := errgroup.WithContext(ctx)

	if slices.Contains(loops, loopEventFanOut) {
		p := app.relay.NewEventFanOutProcessor()
		listener.Subscribe(pglistener.ChannelEventOutbox, p.Notifier())
		g.Go(func() error { return p.Run(gctx) })
	}
	if slices.Contains(loops, loopNotificationFanOut) {
		p := app.relay.NewNotificationFanOutProcessor()
		listener.Subscribe(pglistener.ChannelNotificationOutbox, p.Notifier())
		g.Go(func() error { return p.Run(gctx) })
	}
	if slices.Contains(loops, loopDelivery) {
		w := app.relay.NewDeliveryWorker()
		listener.Subscribe(pglistener.ChannelDeliveries, w.Notifier())
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return listener.Start(gctx) })
	g.Go(func() error { return serveMonitoring(gctx, cnf, app.datasource) })

	logrus.WithField("loops", loops).Info("relay workers started")
	err := g.Wait()
	logrus.Info("relay workers stopped")
	return err
}

func monitoringRouter(cnf *config.Configuration, ds database.IDataSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cnf.Tracing.Enabled {
		router.Use(otelgin.Middleware(cnf.Tracing.ServiceName))
	}

	router.GET("/health", func(c *gin.Context) {
		if err := ds.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func serveMonitoring(ctx context.Context, cnf *config.Configuration, ds database.IDataSource) error {
	server := &http.Server{
		Addr:              ":" + cnf.Monitoring.Port,
		Handler:           monitoringRouter(cnf, ds),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cnf.Monitoring.Port).Info("monitoring server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
