package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/cooklang/cooksync/internal/version"
	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const cookSyncArt = `
                 __
  _______  ___  / /__ ___ _____  ____
 / __/ _ \/ _ \/  '_/(_-</ // / _ \/ __/
 \__/\___/\___/_/\_\/___/\_, /_//_/\__/
                        /___/`

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "cooksync",
	Short:   "Keep a recipe folder in sync across devices",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		c, err := openClient(cfg, !noWatch)
		if err != nil {
			return err
		}
		defer c.Close()

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

var noWatch bool

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "rescan periodically instead of watching the filesystem")
	rootCmd.Flags().Bool("download-only", false, "never upload local changes")

	pf := rootCmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", config.DefaultConfigPath, "cooksync config file")
	pf.StringP("datadir", "d", config.DefaultDataDir, "recipe directory to sync")
	pf.StringP("server", "s", config.DefaultServerURL, "cooksync server url")
	pf.StringP("token", "t", "", "access token issued by the server")
	pf.Int64P("namespace", "n", config.DefaultNamespace, "namespace id")
}

func main() {
	slog.SetDefault(slog.New(newStdoutHandler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newStdoutHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// loadConfig merges the config file, COOKSYNC_ env vars and flags, in
// increasing priority. A missing config file is not an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	path := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	v.SetEnvPrefix("COOKSYNC")
	v.AutomaticEnv()

	bindFlag(v, "data_dir", cmd.Flag("datadir"))
	bindFlag(v, "server_url", cmd.Flag("server"))
	bindFlag(v, "token", cmd.Flag("token"))
	bindFlag(v, "namespace_id", cmd.Flag("namespace"))
	bindFlag(v, "download_only", cmd.Flag("download-only"))
	for _, key := range []string{"include", "workers", "download_interval", "upload_interval"} {
		_ = v.BindEnv(key)
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag != nil {
		_ = v.BindPFlag(key, flag)
	}
}

func showHeader() {
	color.New(color.FgHiYellow, color.Bold).Println(cookSyncArt)
	fmt.Println(gray.Render(version.ShortWithApp()))
}
