package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fixora/sqlaudit/internal/adapter/events"
	httpadapter "github.com/fixora/sqlaudit/internal/adapter/http"
	"github.com/fixora/sqlaudit/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

func ServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only audit API",
		Long: `Serve stats, runs and actions over HTTP. Every route under /api/v1
needs a bearer token minted with "sqlaudit token"; /health is public.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.store.Ping(ctx); err != nil {
				return err
			}

			tokens, err := httpadapter.NewTokenService(a.cfg.Security.JWTSecret, a.cfg.Security.JWTIssuer, 0)
			if err != nil {
				return err
			}
			handler := httpadapter.NewAuditHandler(
				usecase.NewStatsUseCase(a.store, a.policy, a.cfg.Audit.ExpiryWindow),
				usecase.NewActionUseCase(a.store, a.log),
			)

			var limiter httpadapter.RateLimiter
			if client := openFeed(ctx, a); client != nil {
				defer client.Close()
				handler.WithEventSource(events.NewSubscriber(client, a.cfg.Redis.Channel), 0)
				if a.cfg.Server.RateLimit > 0 {
					limiter = httpadapter.NewRedisRateLimiter(client, a.cfg.Server.RateLimit, a.cfg.Server.RateWindow)
				}
				a.log.Info(ctx, "Action stream and rate limiting enabled", map[string]interface{}{
					"channel":    a.cfg.Redis.Channel,
					"rate_limit": a.cfg.Server.RateLimit,
					"window":     a.cfg.Server.RateWindow.String(),
				})
			}

			server := httpadapter.NewServer(httpadapter.ServerConfig{
				Addr:           a.cfg.ServerAddr(),
				ReadTimeout:    a.cfg.Server.ReadTimeout,
				WriteTimeout:   a.cfg.Server.WriteTimeout,
				IdleTimeout:    a.cfg.Server.IdleTimeout,
				AllowedOrigins: a.cfg.Server.CORSOrigins,
			}, handler, tokens, a.store, limiter, a.log)

			a.log.Info(ctx, "sqlaudit API starting", map[string]interface{}{
				"environment": a.cfg.Server.Environment,
				"driver":      a.store.Dialect(),
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(server.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				return err
			}
			a.log.Info(context.Background(), "sqlaudit API stopped", nil)
			return nil
		},
	}

	return cmd
}

// openFeed connects to the Redis instance of the action feed. Without it the
// API is served without rate limiting or the live stream.
func openFeed(ctx context.Context, a *app) *redis.Client {
	if !a.cfg.Redis.Enabled {
		a.log.Info(ctx, "Redis disabled, serving without rate limiting or live stream", nil)
		return nil
	}

	client, err := events.NewClient(events.Config{
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
		Timeout:  a.cfg.Redis.Timeout,
	})
	if err != nil {
		a.log.Warn(ctx, "Redis unavailable, serving without rate limiting or live stream", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return client
}
