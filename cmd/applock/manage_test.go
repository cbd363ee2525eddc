package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/policy"
)

type staticSettings map[string]string

func (s staticSettings) GetBool(_ context.Context, k string, def bool) (bool, error) { return def, nil }
func (s staticSettings) GetInt(_ context.Context, k string, def int) (int, error) { return def, nil }
func (s staticSettings) SetSetting(_ context.Context, k, v string) error { s[k] = v; return nil }
func (s staticSettings) AllSettings(context.Context) (map[string]string, error) { return s, nil }

func TestBuildExport_RoundTripsAsYAML(t *testing.T) {
	reg := policy.NewRegistryWithApps(
		domain.ProtectedApp{Key: "/usr/bin/firefox", DisplayName: "firefox", Kind: domain.AppKindExecutable, Active: true},
		domain.ProtectedApp{Key: "Microsoft.WindowsCalculator", DisplayName: "Calculator", Kind: domain.AppKindPackaged},
	)
	settings := staticSettings{domain.SettingProtectionEnabled: "true", domain.SettingAutoCloseTimeout: "30"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	doc, err := buildExport(context.Background(), settings, reg, now)
	require.NoError(t, err)
	require.Len(t, doc.LockedApps, 2)
	assert.Equal(t, int64(1), doc.LockedApps[0].ID, "apps are ordered by id")

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, doc))
	assert.NotContains(t, buf.String(), "password")

	var back exportDocument
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, now, back.ExportedAt)
	assert.Equal(t, "30", back.Settings[domain.SettingAutoCloseTimeout])
	assert.Equal(t, "firefox", back.LockedApps[0].Name)
	assert.Equal(t, "packaged", back.LockedApps[1].Kind)
	assert.False(t, back.LockedApps[1].Active)
}

func TestBuildExport_EmptyRegistry(t *testing.T) {
	doc, err := buildExport(context.Background(), staticSettings{}, policy.NewRegistry(), time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, doc))
	assert.Contains(t, buf.String(), "locked_apps: []")
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("first secret\r\nsecond\nlast"))

	for _, want := range []string{"first secret", "second", "last"} {
		got, err := readLine(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := readLine(r)
	assert.Error(t, err)
}

func TestPassthroughArgs(t *testing.T) {
	configPath, dataDirFlag = "", ""
	assert.Empty(t, passthroughArgs())

	configPath, dataDirFlag = "/etc/applock.yaml", "/tmp/data"
	t.Cleanup(func() { configPath, dataDirFlag = "", "" })
	assert.Equal(t, []string{"--config", "/etc/applock.yaml", "--data-dir", "/tmp/data"}, passthroughArgs())
}
