package calc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_Config_Defaults(t *testing.T) {
	t.Setenv(ConfigEnv, "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 5*time.Second || cfg.MaxDepth != DefaultMaxDepth || cfg.CacheLimit != 0 || cfg.Path != "" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func Test_Config_Load(t *testing.T) {
	path := writeConfig(t, "timeout: 250ms\nmax_depth: 64\ncache_limit: 100\ntrace: true\nscripts_dir: /tmp/scripts\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 250*time.Millisecond || cfg.MaxDepth != 64 || cfg.CacheLimit != 100 || !cfg.Trace {
		t.Fatalf("loaded: %+v", cfg)
	}
	if cfg.Path != path {
		t.Fatalf("path: %q", cfg.Path)
	}
	if got := cfg.ScriptPath("+primes"); got != filepath.Join("/tmp/scripts", "primes.c5") {
		t.Fatalf("ScriptPath: %q", got)
	}
	if got := cfg.ScriptPath("local.c5"); got != "local.c5" {
		t.Fatalf("ScriptPath passthrough: %q", got)
	}
}

func Test_Config_FromEnvironment(t *testing.T) {
	path := writeConfig(t, "max_depth: 7\n")
	t.Setenv(ConfigEnv, path)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxDepth != 7 {
		t.Fatalf("max_depth: %d", cfg.MaxDepth)
	}
}

func Test_Config_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("timeout: %s", cfg.Timeout)
	}
}

func Test_Config_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "timout: 1s\n",
		"bad duration":     "timeout: soon\n",
		"negative timeout": "timeout: -1s\n",
		"negative depth":   "max_depth: -3\n",
		"not a mapping":    "- a\n- b\n",
	}
	for name, body := range cases {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil || !strings.HasPrefix(err.Error(), "config:") {
			t.Fatalf("%s: want config error, got %v", name, err)
		}
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}
