package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"powerbridge/internal/app"
	"powerbridge/internal/httpapi"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr        string
		corsOrigins string
		maxBody     int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose submit/poll/release over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if corsOrigins != "" {
				cfg.CORSEnabled = true
				cfg.CORSAllowedOrigins = splitCSV(corsOrigins)
			}
			host, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			httpapi.SetMaxBodyBytes(maxBody)
			if cfg.CORSEnabled {
				httpapi.SetCORSOptions(true, cfg.CORSAllowedOrigins,
					[]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
					[]string{"Content-Type", "X-Log-Level"})
			}
			baseCtx, stopBase := context.WithCancel(context.Background())
			defer stopBase()
			httpapi.SetBaseContext(baseCtx)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(host),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Msg("bridge listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stop)
			select {
			case <-stop:
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			stopBase()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return host.Close(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed origins; enables CORS")
	f.Int64Var(&maxBody, "max-body-bytes", 1<<20, "Maximum request body size")
	return cmd
}
