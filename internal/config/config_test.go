package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, ModeWatch, cfg.Mode)
	require.True(t, cfg.Watch.Recursive)
	require.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	require.Equal(t, 300*time.Second, cfg.Index.Timeout)
	require.Equal(t, 10*time.Second, cfg.Index.ProbeTimeout)
	require.Equal(t, "0.0.0.0:8000", cfg.Companion.Address)
	require.Equal(t, 5*time.Second, cfg.Companion.GracePeriod)
	require.Equal(t, "example_flow.py", cfg.Companion.FlowFile)
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), DefaultPath), false)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
}

func TestLoad_OverlaysYAMLAndExpandsEnv(t *testing.T) {
	t.Setenv("INDEXWATCH_TEST_ROOT", "/srv/docs")
	path := writeFile(t, t.TempDir(), "indexwatch.yaml", `
mode: both
watch:
  path: ${INDEXWATCH_TEST_ROOT}
  debounce: 500ms
  ignore: ["*.log"]
index:
  target: main.py
  timeout: 1m
companion:
  address: 127.0.0.1:9001
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, ModeBoth, cfg.Mode)
	require.Equal(t, "/srv/docs", cfg.Watch.Path)
	require.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	require.Equal(t, []string{"*.log"}, cfg.Watch.Ignore)
	require.Equal(t, time.Minute, cfg.Index.Timeout)
	require.Equal(t, "127.0.0.1:9001", cfg.Companion.Address)
	// Untouched fields keep their defaults.
	require.True(t, cfg.Watch.Recursive)
	require.Equal(t, []string{"update", "{target}"}, cfg.Index.Args)
	require.Equal(t, 5*time.Second, cfg.Companion.GracePeriod)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "watch:\n  pth: /tmp\n")
	_, err := Load(path, true)
	require.Error(t, err)
	require.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "")
	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestApply_FlagsOverrideYAML(t *testing.T) {
	cfg := Defaults()
	cfg.Watch.Debounce = 5 * time.Second
	cfg.Apply(Overrides{
		Mode:            ModeCompanion,
		Address:         "127.0.0.1:9001",
		DebounceSeconds: 0.25,
		NoRecursive:     true,
		InitialIndex:    true,
		NoLock:          true,
	})
	require.Equal(t, ModeCompanion, cfg.Mode)
	require.Equal(t, "127.0.0.1:9001", cfg.Companion.Address)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.False(t, cfg.Watch.Recursive)
	require.True(t, cfg.Index.Initial)
	require.False(t, cfg.Lock)
}

func TestApply_UnsetFlagsKeepConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Watch.Debounce = 5 * time.Second
	cfg.Apply(Overrides{DebounceSeconds: -1})
	require.Equal(t, 5*time.Second, cfg.Watch.Debounce)
	require.Equal(t, Defaults().Companion, cfg.Companion)

	cfg.Apply(Overrides{DebounceSeconds: 0})
	require.Zero(t, cfg.Watch.Debounce)
}

func TestCommands_ExpandPlaceholders(t *testing.T) {
	cfg := Defaults()
	cfg.Index.Target = "/app/main.py"
	cfg.Companion.FlowFile = "/app/flows.py"
	cfg.Companion.Address = "127.0.0.1:9001"

	idx := cfg.IndexCommand()
	require.Equal(t, "cocoindex", idx.Name)
	require.Equal(t, []string{"update", "/app/main.py"}, idx.Args)

	require.Equal(t, []string{"--version"}, cfg.ProbeCommand().Args)

	comp := cfg.CompanionCommand()
	require.Equal(t, []string{"server", "/app/flows.py", "--address", "127.0.0.1:9001"}, comp.Args)
	require.Equal(t, []string{"update", "{target}"}, cfg.Index.Args, "expansion must not mutate config")
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeWatch, "watch": ModeWatch, "BOTH": ModeBoth, " companion ": ModeCompanion} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMode("server")
	require.Equal(t, ferrors.CategoryValidation, ferrors.GetCategory(err))

	require.True(t, ModeBoth.Watches())
	require.True(t, ModeBoth.RunsCompanion())
	require.False(t, ModeWatch.RunsCompanion())
	require.False(t, ModeCompanion.Watches())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Watch.Path = "/w"
		cfg.Index.Target = "/w/main.py"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults with paths", func(*Config) {}, true},
		{"zero debounce", func(c *Config) { c.Watch.Debounce = 0 }, true},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, false},
		{"missing watch path", func(c *Config) { c.Watch.Path = "" }, false},
		{"missing target", func(c *Config) { c.Index.Target = "" }, false},
		{"companion mode needs no watch path", func(c *Config) { c.Mode = ModeCompanion; c.Watch.Path = "" }, true},
		{"bad address", func(c *Config) { c.Mode = ModeBoth; c.Companion.Address = "localhost" }, false},
		{"bad port", func(c *Config) { c.Mode = ModeBoth; c.Companion.Address = "0.0.0.0:http" }, false},
		{"bad mode", func(c *Config) { c.Mode = "server" }, false},
		{"zero timeout", func(c *Config) { c.Index.Timeout = 0 }, false},
		{"nats without subject", func(c *Config) { c.Notify.NatsURL = "nats://x"; c.Notify.Subject = "" }, false},
		{"bad admin address", func(c *Config) { c.Admin.Address = "nope" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, ferrors.CategoryValidation, ferrors.GetCategory(err))
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "main.py", "")
	flow := writeFile(t, dir, "flows.py", "")

	t.Run("watch mode", func(t *testing.T) {
		cfg := Defaults()
		cfg.Watch.Path = dir
		cfg.Index.Target = target
		require.NoError(t, cfg.Resolve())
		require.True(t, filepath.IsAbs(cfg.Watch.Path))
	})

	t.Run("missing watch path", func(t *testing.T) {
		cfg := Defaults()
		cfg.Watch.Path = filepath.Join(dir, "missing")
		cfg.Index.Target = target
		err := cfg.Resolve()
		require.ErrorIs(t, err, ErrWatchPathNotFound)
		require.Equal(t, ferrors.CategoryPath, ferrors.GetCategory(err))
	})

	t.Run("watch path is a file", func(t *testing.T) {
		cfg := Defaults()
		cfg.Watch.Path = target
		cfg.Index.Target = target
		require.ErrorIs(t, cfg.Resolve(), ErrWatchPathNotDir)
	})

	t.Run("missing target", func(t *testing.T) {
		cfg := Defaults()
		cfg.Watch.Path = dir
		cfg.Index.Target = filepath.Join(dir, "nope.py")
		require.ErrorIs(t, cfg.Resolve(), ErrTargetNotFound)
	})

	t.Run("companion mode checks flow file only", func(t *testing.T) {
		cfg := Defaults()
		cfg.Mode = ModeCompanion
		cfg.Companion.FlowFile = flow
		require.NoError(t, cfg.Resolve())

		cfg.Companion.FlowFile = filepath.Join(dir, "missing.py")
		require.ErrorIs(t, cfg.Resolve(), ErrFlowFileNotFound)
	})
}

func TestInit_WritesLoadableExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, Init(path, false))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "./docs", cfg.Watch.Path)
	require.Equal(t, 2*time.Second, cfg.Watch.Debounce)

	err = Init(path, false)
	require.Equal(t, ferrors.CategoryConfig, ferrors.GetCategory(err))
	require.NoError(t, Init(path, true))
}
