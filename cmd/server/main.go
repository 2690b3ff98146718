package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cooklang/cooksync/internal/server"
	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/version"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// every key a config file may carry, bound to COOKSYNC_<KEY> with dots as underscores
var configKeys = []string{
	"data_dir", "db_path", "quota", "rate_limit",
	"http.addr", "http.cert_file", "http.key_file",
	"auth.enabled", "auth.token_issuer", "auth.token_secret", "auth.token_expiry",
	"blob.backend", "blob.dir", "blob.cache_ttl",
	"blob.s3.bucket_name", "blob.s3.region", "blob.s3.access_key", "blob.s3.secret_key",
	"blob.s3.endpoint", "blob.s3.prefix", "blob.s3.use_accelerate",
}

var rootCmd = &cobra.Command{
	Use:     "cooksync-server",
	Short:   "cooksync server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		slog.Info("cooksync server", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

		srv, err := server.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return srv.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "f", "", "path to the yaml/json config file")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "directory for the journal and disk chunks")
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "address to bind the server")
	rootCmd.Flags().StringP("cert", "c", "", "path to the TLS certificate file")
	rootCmd.Flags().StringP("key", "k", "", "path to the TLS key file")

	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})))

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, COOKSYNC_ env vars and flags, in
// increasing priority. server.New validates the result.
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		path := f.Value.String()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.SetEnvPrefix("COOKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("auth.token_issuer", auth.DefaultTokenIssuer)
	v.SetDefault("auth.token_expiry", auth.DefaultTokenExpiry)

	for key, flag := range map[string]string{
		"data_dir":       "data-dir",
		"http.addr":      "bind",
		"http.cert_file": "cert",
		"http.key_file":  "key",
	} {
		if f := cmd.Flag(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}

	cfg := &server.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print cooksync-server version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
			return err
		},
	}
}
