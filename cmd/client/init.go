package main

import (
	"fmt"
	"io"

	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from flags and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if existing, err := config.LoadClientConfig(path); err == nil && !force {
				fmt.Fprintln(cmd.OutOrStdout(), "cooksync already initialized, use --force to overwrite")
				printConfig(cmd.OutOrStdout(), existing)
				return nil
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cooksync initialized")
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config Path: %s\n", green.Render(cfg.Path))
	fmt.Fprintf(w, "Data Dir:    %s\n", cyan.Render(cfg.DataDir))
	fmt.Fprintf(w, "Server:      %s\n", cyan.Render(cfg.ServerURL))
	fmt.Fprintf(w, "Namespace:   %s\n", cyan.Render(fmt.Sprint(cfg.Namespace)))
}
