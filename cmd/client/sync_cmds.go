package main

import (
	"fmt"
	"time"

	"github.com/cooklang/cooksync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newWaitCmd())
	rootCmd.AddCommand(newResyncCmd())
}

// withClient loads and validates the config, opens the root without a
// watcher and hands the client to fn
func withClient(cmd *cobra.Command, fn func(*client.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	c, err := openClient(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Apply remote changes once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *client.Client) error {
				if err := c.DownloadOnce(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), green.Render("download complete"))
				return nil
			})
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Publish local changes once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *client.Client) error {
				if err := c.UploadOnce(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), green.Render("upload complete"))
				return nil
			})
		},
	}
}

func newWaitCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until another device commits a change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *client.Client) error {
				updated, err := c.WaitRemoteUpdate(cmd.Context(), timeout)
				if err != nil {
					return err
				}
				if !updated {
					fmt.Fprintln(cmd.OutOrStdout(), gray.Render("no remote changes"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), cyan.Render("remote changed"))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Re-read the whole remote journal and retry every path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *client.Client) error {
				if err := c.Resync(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), green.Render("resync complete"))
				return nil
			})
		},
	}
}
