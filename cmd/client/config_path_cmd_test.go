package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestConfigPathCommand_PrintsResolvedPath(t *testing.T) {
	cmd := &cobra.Command{Use: "cooksync"}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "path to config file")
	cmd.AddCommand(newConfigPathCmd())

	t.Setenv("COOKSYNC_CONFIG_PATH", "")

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config-path"})

	require.NoError(t, cmd.Execute())
	require.Equal(t, config.DefaultConfigPath, strings.TrimSpace(out.String()))
}
