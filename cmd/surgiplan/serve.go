package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"surgiplan/internal/app"
	"surgiplan/internal/server"
	"surgiplan/pkg/logger"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long: `Serves the analysis API. Bearer auth is enforced when the environment
variable named by server.jwt_secret_env is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				srvCfg := a.Config.Server
				if addr == "" {
					addr = srvCfg.Addr
				}
				if basePath == "" {
					basePath = srvCfg.BasePath
				}
				auth := server.AuthConfig{}
				if srvCfg.JWTSecretEnv != "" {
					auth.JWTSecret = os.Getenv(srvCfg.JWTSecretEnv)
				}
				svc := a.Engine.NewAssistant()
				handler, err := server.New(server.Config{
					Engine:         a.Engine,
					Assistant:      svc,
					BasePath:       basePath,
					Auth:           auth,
					AllowedOrigins: srvCfg.CORSAllowedOrigins,
					Logger:         a.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, ctx := errgroup.WithContext(cmd.Context())
				g.Go(func() error {
					server.RunSessionSweeper(ctx, svc, sweepEvery, a.Log)
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					a.Log.Info("serving",
						logger.String("addr", addr),
						logger.String("base_path", basePath),
						logger.Bool("auth", auth.JWTSecret != ""),
						logger.Bool("storage", a.Engine.Stores()))
					fmt.Fprintf(cmd.OutOrStdout(), "Serving SurgiPlan API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
						addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-every", time.Minute, "how often idle assistant sessions are ended")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long:  "Signs an HS256 token with the secret read from the environment variable named by server.jwt_secret_env.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			env := cfg.Server.JWTSecretEnv
			secret := ""
			if env != "" {
				secret = os.Getenv(env)
			}
			if secret == "" {
				return fmt.Errorf("set %s to sign tokens", envOrDefault(env))
			}
			tok, err := server.IssueToken(secret, subject, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor recorded for requests made with the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func envOrDefault(env string) string {
	if env == "" {
		return "server.jwt_secret_env"
	}
	return env
}
