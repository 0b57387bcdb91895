package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"visualia/internal/api"
	"visualia/internal/config"
	"visualia/internal/daemon"
	"visualia/internal/eventhub"
	"visualia/internal/testsupport"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VISUALIA_MODEL", "")
	t.Setenv("VISUALIA_LANG", "")
	t.Setenv("VISUALIA_BACKEND", "")
	t.Chdir(t.TempDir())
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	isolateEnv(t)
	target := filepath.Join(t.TempDir(), "visualia", "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("unexpected output: %q", out)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigPathAndShow(t *testing.T) {
	isolateEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.toml")

	out, err := runCLI(t, "--config", missing, "config", "path")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if !strings.Contains(out, missing) || !strings.Contains(out, "defaults in use") {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = runCLI(t, "--config", missing, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"[engine]", "base", "[api]", "bind"} {
		if !strings.Contains(out, want) {
			t.Fatalf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestDepsReportsMissingEngine(t *testing.T) {
	isolateEnv(t)
	cfg := testsupport.NewConfig(t)
	cfg.Engine.Binary = filepath.Join(testsupport.BaseDir(cfg), "nope")
	path := writeConfig(t, cfg)

	out, err := runCLI(t, "--config", path, "deps")
	if err == nil {
		t.Fatal("expected missing dependency error")
	}
	if !strings.Contains(out, "missing") {
		t.Fatalf("table does not flag missing entries:\n%s", out)
	}
}

func TestDepsSatisfied(t *testing.T) {
	isolateEnv(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineScript(testsupport.EchoEngine),
		testsupport.WithModelFiles("base"),
	)
	path := writeConfig(t, cfg)

	out, err := runCLI(t, "--config", path, "deps", "--json")
	if err != nil {
		t.Fatalf("deps: %v\n%s", err, out)
	}
	var statuses []map[string]any
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode deps json: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected dependency statuses")
	}
}

func TestControlCommandsValidateLocally(t *testing.T) {
	isolateEnv(t)
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	if _, err := runCLI(t, "--config", path, "model", "gigantic"); err == nil || !strings.Contains(err.Error(), "unknown model") {
		t.Fatalf("expected unknown model error, got %v", err)
	}
	if _, err := runCLI(t, "--config", path, "lang", "not a language!"); err == nil {
		t.Fatal("expected invalid language error")
	}
	if _, err := runCLI(t, "--config", path, "send", "ping", "[1,2]"); err == nil || !strings.Contains(err.Error(), "JSON object") {
		t.Fatalf("expected JSON object error, got %v", err)
	}
	if _, err := runCLI(t, "--config", path, "--log-level", "loud", "run"); err == nil {
		t.Fatal("expected invalid log level error")
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	isolateEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	cfg := testsupport.NewConfig(t)
	cfg.API.Bind = addr
	path := writeConfig(t, cfg)

	_, err = runCLI(t, "--config", path, "status")
	if err == nil || !strings.Contains(err.Error(), "visualia run") {
		t.Fatalf("expected daemon hint, got %v", err)
	}
}

func TestHistoryWithoutTranscripts(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, testsupport.NewConfig(t))

	out, err := runCLI(t, "--config", path, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No transcripts recorded yet") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCommandsAgainstRunningDaemon(t *testing.T) {
	isolateEnv(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithEngineScript(testsupport.EchoEngine),
		testsupport.WithModelFiles("base", "small"),
	)
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFor(t, "engine start", func() bool {
		events, _ := d.Hub().Tail(0)
		for _, evt := range events {
			if evt.Source == eventhub.SourceSupervisor && strings.HasPrefix(evt.Message, "engine started") {
				return true
			}
		}
		return false
	})

	cfg.API.Bind = d.APIAddr()
	path := writeConfig(t, cfg)

	out, err := runCLI(t, "--config", path, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st api.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if st.State != "attached" || st.Launch.Model != "base" {
		t.Fatalf("unexpected status: %+v", st)
	}

	out, err = runCLI(t, "--config", path, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "attached (pid") {
		t.Fatalf("unexpected status output:\n%s", out)
	}

	out, err = runCLI(t, "--config", path, "send", "ping", `{"n":1}`)
	if err != nil || !strings.Contains(out, "delivered") {
		t.Fatalf("send: %v %q", err, out)
	}

	waitFor(t, "echoed caption", func() bool {
		out, err := runCLI(t, "--config", path, "events")
		return err == nil && strings.Contains(out, "heard ping")
	})

	out, err = runCLI(t, "--config", path, "model", "small")
	if err != nil || !strings.Contains(out, "model small") {
		t.Fatalf("model: %v %q", err, out)
	}
	waitFor(t, "relaunch with small", func() bool {
		st := d.Status()
		return st.State == "attached" && st.Launch.Model == "small"
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLogsShowsTail(t *testing.T) {
	isolateEnv(t)
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	if _, err := runCLI(t, "--config", path, "logs"); err == nil || !strings.Contains(err.Error(), "no daemon log") {
		t.Fatalf("expected missing log error, got %v", err)
	}

	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.LogDir, "visualia.log"), []byte("one\ntwo\nthree\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, err := runCLI(t, "--config", path, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "two\nthree\n" {
		t.Fatalf("unexpected output %q", out)
	}
}
