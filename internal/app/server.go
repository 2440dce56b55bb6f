package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/config"
	"github.com/prinzana/sellyticsOffline-sub004/internal/httpapi"
)

// ServerModule serves the terminal API for the lifetime of the application.
func ServerModule() fx.Option {
	return fx.Module(
		"http",
		fx.Provide(newAPI, newServer),
		fx.Invoke(func(*http.Server) {}),
	)
}

func newAPI(rt *Runtime) *httpapi.API {
	return httpapi.New(httpapi.Deps{
		Service:       rt.Service,
		Engine:        rt.Engine,
		Resolver:      rt.Resolver,
		Conn:          rt.Conn,
		PIN:           httpapi.NewPINGuard(rt.Config.ManagerPIN),
		AllowedOrigin: rt.Config.AllowedOrigin,
		Logger:        rt.Logger,
	})
}

func newServer(lc fx.Lifecycle, cfg config.Config, api *httpapi.API, logger *zap.Logger) *http.Server {
	logger = logger.Named("http")
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			logger.Info("terminal API listening", zap.String("addr", server.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
	return server
}
