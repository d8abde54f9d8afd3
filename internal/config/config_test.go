// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:10244", cfg.Backend.BaseURL)
	assert.Equal(t, 60, cfg.Backend.TimeoutSecs)
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
version = "1.0.0"

[backend]
base_url = "https://api.example.com"
token = "tok-123"

[ui]
theme = "dark"
markdown = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "tok-123", cfg.Backend.Token)
	assert.Equal(t, "dark", cfg.UI.Theme)
	// Missing fields filled from defaults.
	assert.Equal(t, 60, cfg.Backend.TimeoutSecs)
	assert.Equal(t, 3, cfg.Backend.MaxRetries)
}

func TestLoadFixesInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = \"1.0.0\"\n"), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Backend.BaseURL = "::not-a-url" }, "backend.base_url"},
		{"timeout too low", func(c *Config) { c.Backend.TimeoutSecs = 0 }, "backend.timeout_secs"},
		{"retries too high", func(c *Config) { c.Backend.MaxRetries = 99 }, "backend.max_retries"},
		{"bad theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEXCHAT_BASE_URL", "https://env.example.com")
	t.Setenv("LEXCHAT_TOKEN", "env-token")
	t.Setenv("LEXCHAT_THEME", "light")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "https://env.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "env-token", cfg.Backend.Token)
	assert.Equal(t, "light", cfg.UI.Theme)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Backend.Token = "secret"
	cfg.UI.Theme = "light"
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.Backend.Token)
	assert.Equal(t, "light", loaded.UI.Theme)
}

func TestStringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Backend.Token = "very-secret"
	s := cfg.String()
	assert.NotContains(t, s, "very-secret")
	assert.Contains(t, s, "[REDACTED]")
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = \"1.0.0\"\n"), 0600))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, 10*time.Millisecond, func(cfg *Config, err error) {
		require.NoError(t, err)
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version = \"1.0.0\"\n\n[ui]\ntheme = \"dark\"\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.UI.Theme == "dark"
	}, 3*time.Second, 20*time.Millisecond)
}
