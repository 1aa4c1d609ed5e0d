package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "meetbot/pkg/logx"
)

const sampleYAML = `
transport:
  kind: discord
  token_env: MEETBOT_TEST_TOKEN
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: Europe/Berlin
  write_retries: 3
  catch_up: 2m
storage:
  driver: sqlite
  path: ./meetbot.db
divisions:
  - name: eng
    channel_id: "123"
    role_id: "456"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecode_YAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "discord", cfg.Transport.Kind)
	assert.True(t, cfg.Scheduler.IsEnabled())
	require.NotNil(t, cfg.Scheduler.WriteRetries)
	assert.Equal(t, 3, *cfg.Scheduler.WriteRetries)
	assert.Equal(t, "2m", cfg.Scheduler.CatchUp)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Len(t, cfg.Divisions, 1)
	assert.Equal(t, DivisionConfig{Name: "eng", ChannelID: "123", RoleID: "456"}, cfg.Divisions[0])
	assert.Nil(t, cfg.Notifier)
}

func TestDecode_Strict(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"transport":{"kind":"console"},"plugins":{}}`))
	require.Error(t, err, "unknown section")

	_, err = Decode("config.json", []byte(`{"transport":{"kind":"console"}}{}`))
	require.Error(t, err, "trailing data")

	_, err = Decode("config.yml", []byte("transport: [unclosed"))
	require.Error(t, err)
}

func TestResolvedSecrets(t *testing.T) {
	t.Setenv("MEETBOT_TEST_TOKEN", " secret ")
	t.Setenv("MEETBOT_TEST_DSN", "postgres://x")

	assert.Equal(t, "secret", TransportConfig{TokenEnv: "MEETBOT_TEST_TOKEN"}.ResolvedToken())
	assert.Equal(t, "inline", TransportConfig{Token: "inline", TokenEnv: "MEETBOT_TEST_TOKEN"}.ResolvedToken())
	assert.Equal(t, "", TransportConfig{}.ResolvedToken())
	assert.Equal(t, "postgres://x", StorageConfig{DSNEnv: "MEETBOT_TEST_DSN"}.ResolvedDSN())
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	require.Error(t, err)

	_, err = ParseDurationField("scheduler.catch_up", "soon")
	require.ErrorContains(t, err, "scheduler.catch_up")

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationField("maintenance.prune_stale_after", "7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	d, err = ParseDurationField("x", "2w")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	_, err = ParseDurationField("x", "1.5d")
	require.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Transport: TransportConfig{Kind: "telegram", Token: "a"}}
	newCfg := &Config{
		Transport: TransportConfig{Kind: "telegram", Token: "b"},
		Scheduler: SchedulerConfig{CatchUp: "1m"},
		Divisions: []DivisionConfig{{Name: "eng", ChannelID: "1"}},
	}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"divisions", "scheduler", "transport"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"transport"}, RestartRequired(sections))

	var buf strings.Builder
	logx.NewWriter(&buf, "debug").Info("diff", attrs...)
	assert.NotContains(t, buf.String(), `"b"`, "token must not be logged")

	sections, _ = SummarizeConfigChange(&Config{}, &Config{Notifier: ptrNotifier(DefaultNotifier())})
	assert.Empty(t, sections, "explicit defaults equal an omitted section")
}

func ptrNotifier(n NotifierConfig) *NotifierConfig { return &n }

func TestManager_Reload(t *testing.T) {
	p := writeFile(t, "config.json", `{"transport":{"kind":"console"},"scheduler":{"enabled":true}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "unchanged content is not republished")

	require.NoError(t, os.WriteFile(p, []byte(`{"transport":{"kind":"console"},"scheduler":{"enabled":false}}`), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	assert.False(t, (<-sub).Scheduler.IsEnabled())
	assert.False(t, m.Get().Scheduler.IsEnabled())

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	require.NoError(t, os.WriteFile(p, []byte(`{"transport":{"kind":"telegram"}}`), 0o600))
	_, err = m.Reload(context.Background())
	require.ErrorContains(t, err, "nope")
	assert.Equal(t, "console", m.Get().Transport.Kind, "rejected config is not committed")
}

func TestManager_Watch(t *testing.T) {
	p := writeFile(t, "config.yaml", "transport:\n  kind: console\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("transport:\n  kind: discord\n"), 0o600))

	select {
	case cfg := <-sub:
		assert.Equal(t, "discord", cfg.Transport.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}
}
