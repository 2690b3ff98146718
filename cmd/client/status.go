package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/cooklang/cooksync/internal/client"
	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what is synced, pending and in conflict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if cfg.Namespace <= 0 {
				cfg.Namespace = config.DefaultNamespace
			}
			report, err := client.ReadReport(cmd.Context(), cfg.DataDir, cfg.Namespace)
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(gray).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderReport(w io.Writer, r *client.Report) {
	summary := newTable().
		Row("Root", r.Root).
		Row("Files", strconv.Itoa(r.Files)).
		Row("Size", humanize.IBytes(uint64(r.Bytes))).
		Row("Journal", fmt.Sprintf("%d / %d", r.Cursor, r.LatestJID)).
		Row("Engine", string(r.Engine))
	fmt.Fprintln(w, summary.Render())

	if len(r.Pending) > 0 {
		pending := newTable("Pending upload", "Size", "Modified")
		for _, rec := range r.Pending {
			name := rec.Path
			if rec.Deleted {
				name = red.Render(rec.Path + " (deleted)")
			}
			pending.Row(name, humanize.IBytes(uint64(rec.Size)), humanize.Time(rec.ModifiedAt))
		}
		fmt.Fprintln(w, pending.Render())
	}

	if len(r.Paths) > 0 {
		paths := newTable("Path", "State", "Error")
		for _, p := range r.Paths {
			errText := ""
			if p.Err != nil {
				errText = red.Render(p.Err.Error())
			}
			paths.Row(p.Path, p.State.String(), errText)
		}
		fmt.Fprintln(w, paths.Render())
	}

	if len(r.Conflicts) > 0 {
		conflicts := newTable("Conflict", "Resolution", "Copy")
		for _, c := range r.Conflicts {
			conflicts.Row(yellow.Render(c.Path), string(c.Resolution), c.CopyPath)
		}
		fmt.Fprintln(w, conflicts.Render())
	}

	if len(r.Pending) == 0 && len(r.Conflicts) == 0 && len(r.Paths) == 0 {
		fmt.Fprintln(w, green.Render("everything is in sync"))
	}
}
