package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quizlink/global"
	"quizlink/global/config"
	"quizlink/logger"
	"quizlink/tools/security"
)

var cfgPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "quizlink",
		Short:         "Real-time session client for the quiz game backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "yaml config file")

	rootCmd.AddCommand(runCmd(), tokenCmd(), queueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.AppConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect and keep the session alive until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := global.ConfigAll(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		},
	}
}

// token 用 identity.secret 给本地后端签发开发 token
func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 token for a local backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Identity.Secret == "" {
				return fmt.Errorf("identity.secret is empty")
			}
			opts := security.DefaultOptions([]byte(cfg.Identity.Secret))
			opts.TTL = ttl
			tok, exp, err := security.Generate(opts, cfg.Identity.UserID, cfg.Identity.DisplayName)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintf(os.Stderr, "expires %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 2*time.Hour, "token lifetime")
	return cmd
}

// withQueue opens the configured offline store without connecting.
func withQueue(fn func(ctx context.Context, q queueView) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	q, closeStore, err := global.OpenQueue(ctx, cfg.Offline)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, q)
}
