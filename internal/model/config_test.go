package model_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/CZERTAINLY/port-lens/internal/model"

	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v4"
)

func TestLoadConfig(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		yml := `
version: 0
server:
    addr: ":9000"
    state_file: "state.sqlite"
policy:
    allow:
        - 127.0.0.1/32
        - 10.0.0.0/8
scan:
    ports: "22,80,8000-8100"
    timeout_seconds: 0.5
    max_concurrency: 64
watch:
    targets:
        - localhost
    duration: 5m
service:
    verbose: true
`
		cfg, err := model.LoadConfig(strings.NewReader(yml))
		require.NoError(t, err)
		require.Equal(t, ":9000", cfg.Server.Addr)
		require.Equal(t, "state.sqlite", cfg.Server.StateFile)
		require.Equal(t, []string{"127.0.0.1/32", "10.0.0.0/8"}, cfg.Policy.Allow)
		require.Empty(t, cfg.Policy.Deny)
		require.Equal(t, "22,80,8000-8100", cfg.Scan.Ports)
		require.InDelta(t, 0.5, cfg.Scan.TimeoutSeconds, 0.0001)
		require.Equal(t, 64, cfg.Scan.MaxConcurrency)
		require.NotNil(t, cfg.Watch)
		require.Equal(t, []string{"localhost"}, cfg.Watch.Targets)
		require.Equal(t, "5m", cfg.Watch.Duration)
		require.True(t, cfg.Service.Verbose)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"))
		require.NoError(t, err)
		require.Equal(t, ":8280", cfg.Server.Addr)
		require.Equal(t, "port-lens.sqlite", cfg.Server.StateFile)
		require.InDelta(t, 0.8, cfg.Scan.TimeoutSeconds, 0.0001)
		require.Equal(t, 200, cfg.Scan.MaxConcurrency)
		require.Nil(t, cfg.Watch)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("PORT_LENS_TEST_ADDR", ":7777")
		yml := `
version: 0
server:
    addr: ${PORT_LENS_TEST_ADDR}
`
		cfg, err := model.LoadConfig(strings.NewReader(yml))
		require.NoError(t, err)
		require.Equal(t, ":7777", cfg.Server.Addr)
	})

	t.Run("policy env override", func(t *testing.T) {
		t.Setenv(model.EnvAllowedNetworks, "192.168.0.0/16, 172.16.0.0/12")
		t.Setenv(model.EnvDeniedNetworks, "169.254.0.0/16")
		yml := `
version: 0
policy:
    allow:
        - 127.0.0.1/32
`
		cfg, err := model.LoadConfig(strings.NewReader(yml))
		require.NoError(t, err)
		require.Equal(t, []string{"192.168.0.0/16", "172.16.0.0/12"}, cfg.Policy.Allow)
		require.Equal(t, []string{"169.254.0.0/16"}, cfg.Policy.Deny)
	})

	t.Run("invalid concurrency", func(t *testing.T) {
		yml := `
version: 0
scan:
    max_concurrency: 0
`
		_, err := model.LoadConfig(strings.NewReader(yml))
		require.Error(t, err)
		var cuerr model.CueError
		require.True(t, errors.As(err, &cuerr))
	})

	t.Run("watch requires targets", func(t *testing.T) {
		yml := `
version: 0
watch:
    duration: 5m
`
		_, err := model.LoadConfig(strings.NewReader(yml))
		require.Error(t, err)
	})
}

func TestConfigRoundTrip(t *testing.T) {
	// the stored default config must load back unchanged
	cfg := model.DefaultConfig()
	b, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	loaded, err := model.LoadConfig(strings.NewReader(string(b)))
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	require.Equal(t, ":8280", cfg.Server.Addr)
	require.Equal(t, []string{"127.0.0.1/32", "::1/128"}, cfg.Policy.Allow)
	require.Empty(t, cfg.Policy.Deny)
	require.InDelta(t, 0.8, cfg.Scan.TimeoutSeconds, 0.0001)
	require.Equal(t, 200, cfg.Scan.MaxConcurrency)
	require.False(t, cfg.Policy.IsZero())
	require.True(t, model.Policy{}.IsZero())
}
