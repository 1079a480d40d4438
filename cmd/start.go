package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/relay/internal/env"
	"github.com/luma/relay/storage"
	"github.com/luma/relay/transport"
)

var (
	// The address to bind the tcp and http listeners to
	bindAddress string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	// How many messages one Update hands out
	maxMessages int

	// Whether Update blocks for a message
	wait bool
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 60000, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&bindAddress, "bind", "b", "", "The address to listen on, all interfaces when empty")
	flags.IntVar(&maxMessages, "max-messages", -1, "The most messages handled per update, -1 for no limit")
	flags.BoolVar(&wait, "wait", true, "Block each update until a message arrives")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the relay demo server",
	Long: `Start up the relay demo server

Greets every client, bounces pings and relays MessageAll to every other
client. Live clients are listed at /clients on the HTTP port.

Usage
	relay start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		log, err := env.MakeLogger(debug)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("port") {
			conf.Port = port
		}
		if flags.Changed("bind") {
			conf.BindAddress = bindAddress
		}
		if flags.Changed("http-port") {
			conf.HTTPPort = httpPort
		}
		if flags.Changed("max-messages") {
			conf.MaxMessages = maxMessages
		}
		if flags.Changed("wait") {
			conf.UpdateWait = wait
		}

		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		store := storage.NewInmemoryStore()
		defer store.Close()

		directory := storage.NewDirectory(store)

		demo := newDemoServer(transport.Options{
			Reuseport:   conf.Reuseport,
			MaxBodySize: conf.MaxBodySize,
			Metrics:     transport.NewMetrics(registry, "relay"),
			Log:         log.Named("server"),
		}, directory)

		if err := demo.server.Start(conf.Port, conf.BindAddress); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

		router.GET("/clients", func(c *gin.Context) {
			doc, err := directory.JSON()
			if err != nil {
				c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck
				return
			}

			c.Data(http.StatusOK, "application/json", doc)
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(conf.BindAddress, conf.HTTPPort),
			Handler: router,
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", demo.server.Addr()),
			zap.String("httpAddr", s.Addr))

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
				return err
			}
			return nil
		})

		g.Go(func() error {
			for gctx.Err() == nil {
				demo.server.Update(conf.MaxMessages, conf.UpdateWait)
			}
			return nil
		})

		g.Go(func() error {
			// Listen for the interrupt signal, or a failure of the group
			<-gctx.Done()

			// Restore default behavior on the interrupt signal and notify user of shutdown.
			signalStop()
			log.Info("Shutting down gracefully, press Ctrl+C again to force")

			// The context is used to inform the server it has 5 seconds to finish
			// the request it is currently handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}

			// Also wakes the update loop above
			if err := demo.server.Stop(); err != nil {
				log.Error("TCP server forced to shutdown", zap.Error(err))
			}

			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log.Named("http"), &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
