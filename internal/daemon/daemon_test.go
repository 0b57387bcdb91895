package daemon_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"visualia/internal/api"
	"visualia/internal/daemon"
	"visualia/internal/eventhub"
	"visualia/internal/protocol"
	"visualia/internal/testsupport"
)

func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func findEvent(d *daemon.Daemon, match func(eventhub.UIEvent) bool) (eventhub.UIEvent, bool) {
	events, _ := d.Hub().Tail(0)
	for _, evt := range events {
		if match(evt) {
			return evt, true
		}
	}
	return eventhub.UIEvent{}, false
}

func countEvents(d *daemon.Daemon, match func(eventhub.UIEvent) bool) int {
	events, _ := d.Hub().Tail(0)
	n := 0
	for _, evt := range events {
		if match(evt) {
			n++
		}
	}
	return n
}

func isStarted(evt eventhub.UIEvent) bool {
	return evt.Source == eventhub.SourceSupervisor && strings.HasPrefix(evt.Message, "engine started")
}

func startDaemon(t *testing.T, d *daemon.Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	}
	t.Cleanup(stop)
	return stop
}

func TestDaemonLaunchesEngineAndServesAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.EchoEngine))
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	stop := startDaemon(t, d)

	eventually(t, 5*time.Second, "engine start", func() bool {
		_, ok := findEvent(d, isStarted)
		return ok
	})
	eventually(t, 5*time.Second, "engine status", func() bool {
		_, ok := findEvent(d, func(evt eventhub.UIEvent) bool { return evt.Message == "listening" })
		return ok
	})
	args, ok := findEvent(d, func(evt eventhub.UIEvent) bool { return strings.HasPrefix(evt.Message, "args ") })
	if !ok {
		t.Fatal("engine did not report its arguments")
	}
	if !strings.Contains(args.Message, "whisper-base.gguf -l auto") {
		t.Fatalf("unexpected engine arguments: %q", args.Message)
	}

	client, err := api.NewClient(d.APIAddr(), "")
	if err != nil || client == nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != "attached" || status.PID == 0 || status.SessionID != d.SessionID() {
		t.Fatalf("unexpected status: %+v", status)
	}

	sent, err := client.Send(context.Background(), api.SendRequest{Type: "ping"})
	if err != nil || !sent.Delivered {
		t.Fatalf("Send: %+v %v", sent, err)
	}
	eventually(t, 5*time.Second, "transcription", func() bool {
		_, ok := findEvent(d, func(evt eventhub.UIEvent) bool {
			return evt.Kind == string(protocol.KindTranscription) && evt.Text == "heard ping"
		})
		return ok
	})
	eventually(t, 5*time.Second, "journal entry", func() bool {
		history, err := client.History(context.Background(), 10, d.SessionID())
		return err == nil && len(history.Entries) == 1 && history.Entries[0].Text == "heard ping"
	})

	stop()
	if got := d.Status().State; got != "closed" {
		t.Fatalf("expected closed channel after shutdown, got %s", got)
	}
	if d.Running() {
		t.Fatal("daemon still reports running")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.EchoEngine), testsupport.WithoutAPI())
	first, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, first)
	eventually(t, 5*time.Second, "first daemon start", func() bool {
		_, ok := findEvent(first, isStarted)
		return ok
	})

	second, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Run(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDaemonRequestConfigRelaunches(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.EchoEngine), testsupport.WithoutAPI())
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, d)
	eventually(t, 5*time.Second, "engine start", func() bool {
		_, ok := findEvent(d, isStarted)
		return ok
	})
	firstPID := d.Status().PID

	if _, err := d.RequestConfig(api.ConfigRequest{SourceLanguage: "not a language!"}); !errors.Is(err, api.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	pending, err := d.RequestConfig(api.ConfigRequest{Model: "small", SourceLanguage: "fr-CA"})
	if err != nil {
		t.Fatalf("RequestConfig: %v", err)
	}
	if pending.Model != "small" || pending.SourceLanguage != "fr" {
		t.Fatalf("unexpected pending config: %+v", pending)
	}

	eventually(t, 5*time.Second, "relaunch", func() bool {
		st := d.Status()
		return st.State == "attached" && st.PID != firstPID && st.Launch.Model == "small"
	})
	if st := d.Status(); st.Launch.SourceLanguage != "fr" {
		t.Fatalf("unexpected launch: %+v", st.Launch)
	}
	if _, ok := findEvent(d, func(evt eventhub.UIEvent) bool { return evt.Message == "engine stopped" }); !ok {
		t.Fatal("expected a requested-exit notice for the first engine")
	}
}

func TestDaemonReportsUnexpectedExit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.CrashingEngine), testsupport.WithoutAPI())
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, d)

	eventually(t, 5*time.Second, "unexpected exit", func() bool {
		_, ok := findEvent(d, func(evt eventhub.UIEvent) bool {
			return evt.Kind == string(protocol.KindError) && strings.HasPrefix(evt.Message, "engine exited unexpectedly")
		})
		return ok
	})
	st := d.Status()
	if st.State != "closed" || st.LastExit == nil || st.LastExit.Code != 3 || st.LastExit.Requested {
		t.Fatalf("unexpected status after crash: %+v", st)
	}

	time.Sleep(200 * time.Millisecond)
	if n := countEvents(d, isStarted); n != 1 {
		t.Fatalf("expected no relaunch without auto_restart, saw %d starts", n)
	}
}

func TestDaemonAutoRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.CrashingEngine), testsupport.WithoutAPI())
	cfg.Engine.AutoRestart = true
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, d)

	eventually(t, 5*time.Second, "automatic relaunch", func() bool {
		return countEvents(d, isStarted) >= 2
	})
}

func TestDaemonAutoRestartStopsAtLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.CrashingEngine), testsupport.WithoutAPI())
	cfg.Engine.AutoRestart = true
	cfg.Engine.MaxRestarts = 2
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, d)

	eventually(t, 5*time.Second, "restarts up to the limit", func() bool {
		return countEvents(d, isStarted) >= 3
	})
	eventually(t, 5*time.Second, "final exit", func() bool {
		return d.Status().State == "closed"
	})
	time.Sleep(500 * time.Millisecond)
	if n := countEvents(d, isStarted); n != 3 {
		t.Fatalf("starts = %d, want initial launch plus 2 restarts", n)
	}

	if _, err := d.RequestConfig(api.ConfigRequest{Model: "base"}); err != nil {
		t.Fatalf("RequestConfig: %v", err)
	}
	eventually(t, 5*time.Second, "deliberate relaunch after the limit", func() bool {
		return countEvents(d, isStarted) >= 4
	})
}

func TestDaemonSendReportsUndeliveredWhenEngineStalls(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithEngineScript(testsupport.DeafEngine), testsupport.WithoutAPI())
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	stop := startDaemon(t, d)
	eventually(t, 5*time.Second, "engine status", func() bool {
		_, ok := findEvent(d, func(evt eventhub.UIEvent) bool { return evt.Message == "listening" })
		return ok
	})

	msg := protocol.Message{Type: "ping"}
	deadline := time.Now().Add(5 * time.Second)
	for {
		delivered, err := d.Send(msg)
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if !delivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("outbound queue never filled while the engine ignored stdin")
		}
	}
	if st := d.Status(); st.DroppedSends == 0 || st.State != "attached" {
		t.Fatalf("unexpected status: %+v", st)
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon shutdown blocked behind stalled engine input")
	}
}

func TestDaemonLaunchFailureKeepsRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutAPI())
	cfg.Engine.Binary = testsupport.BaseDir(cfg) + "/missing-engine"
	d, err := daemon.New(cfg, "", nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	startDaemon(t, d)

	eventually(t, 5*time.Second, "launch failure", func() bool {
		_, ok := findEvent(d, func(evt eventhub.UIEvent) bool {
			return evt.Kind == string(protocol.KindError) && evt.Source == eventhub.SourceSupervisor
		})
		return ok
	})
	if !d.Running() {
		t.Fatal("daemon should keep running after a failed launch")
	}
	if delivered, err := d.Send(protocol.Message{Type: "ping"}); delivered || err != nil {
		t.Fatalf("send without engine: delivered=%v err=%v", delivered, err)
	}
}
