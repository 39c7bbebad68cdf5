package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printdialog/printdialog/internal/config"
)

func TestServeFlagsApply(t *testing.T) {
	f := &serveFlags{}
	cmd := &cobra.Command{Use: "serve"}
	f.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--port", "9100",
		"--provider", "static",
		"--printers", "/tmp/printers.yaml",
		"--stay-alive",
	}))

	cfg := config.Default()
	require.NoError(t, f.apply(cmd, cfg))

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, config.ProviderStatic, cfg.Provider.Kind)
	assert.Equal(t, "/tmp/printers.yaml", cfg.Provider.Static.Path)
	assert.False(t, cfg.Lifecycle.ExitWhenIdle)
	assert.Equal(t, "info", cfg.Log.Level, "unset flags leave config alone")
}

func TestServeFlagsRejectInvalid(t *testing.T) {
	f := &serveFlags{}
	cmd := &cobra.Command{Use: "serve"}
	f.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--provider", "lpd"}))

	assert.Error(t, f.apply(cmd, config.Default()))
}

func TestOpenProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: office
printers:
  - name: office
    state: idle
    accepting_jobs: true
`), 0o644))

	cfg := config.Default()
	cfg.Provider.Kind = config.ProviderStatic
	cfg.Provider.Static.Path = path
	prov, err := openProvider(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "static", prov.Name())

	cfg.Provider.Static.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = openProvider(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.Provider.Kind = config.ProviderCUPS
	prov, err = openProvider(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "cups", prov.Name())
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "printdialogd dev", strings.TrimSpace(out.String()))
}

func TestTokenCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token"})

	require.NoError(t, root.Execute())
	assert.Len(t, strings.TrimSpace(out.String()), 32)
}
