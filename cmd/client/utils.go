package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/cooklang/cooksync/internal/client"
	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/cooklang/cooksync/internal/client/workspace"
	"github.com/cooklang/cooksync/internal/utils"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// openClient starts file logging under the root's log dir, then locks the root
func openClient(cfg *config.Config, watch bool) (*client.Client, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := attachLogFile(ws.LogPath); err != nil {
		return nil, err
	}

	var opts []client.Option
	if !watch {
		opts = append(opts, client.WithoutWatcher())
	}
	return client.New(cfg, opts...)
}

// attachLogFile tees the default logger into path
func attachLogFile(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newStdoutHandler(), newFileHandler(file))))
	return nil
}

func newFileHandler(w io.Writer) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}
