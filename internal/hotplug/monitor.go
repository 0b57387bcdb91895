// Package hotplug watches udev for audio capture devices coming and going.
//
// When a microphone is plugged in or removed the engine must be relaunched
// to pick up the new default capture device; the Monitor reports such
// changes to a handler, which normally forwards a relaunch request to the
// restart coordinator.
package hotplug

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"visualia/internal/logging"
)

var capturePCM = regexp.MustCompile(`^pcmC\d+D\d+c$`)

// Change is one matched device event.
type Change struct {
	Action string
	Device string
}

// Monitor listens for udev netlink events on one subsystem.
type Monitor struct {
	subsystem string
	logger    *slog.Logger
	handler   func(Change)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a monitor for subsystem (normally "sound"). It returns nil
// when subsystem is empty.
func New(subsystem string, logger *slog.Logger, handler func(Change)) *Monitor {
	subsystem = strings.TrimSpace(subsystem)
	if subsystem == "" {
		return nil
	}
	return &Monitor{
		subsystem: subsystem,
		logger:    logging.NewComponentLogger(logger, "hotplug"),
		handler:   handler,
	}
}

// Start begins listening for udev netlink events. Failing to open the
// netlink socket is logged and otherwise ignored.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; device changes need a manual relaunch", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "automatic relaunch on microphone changes unavailable"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.monitorLoop(ctx, conn, m.quit, m.done)

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.String("subsystem", m.subsystem),
	)
	return nil
}

// Stop shuts down the monitor and waits for its loop to exit.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	conn := m.conn
	m.quit, m.done, m.conn = nil, nil, nil
	m.running = false
	m.mu.Unlock()

	<-done
	_ = conn.Close()
	m.logger.Info("hotplug monitor stopped", logging.String(logging.FieldEventType, "hotplug_monitor_stopped"))
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.matcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "device changes may be missed"),
			)
		}
	}
}

// matcher accepts SUBSYSTEM=<subsystem> with ACTION=add|remove.
func (m *Monitor) matcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": m.subsystem},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	device, ok := captureDevice(uevent)
	if !ok {
		m.logger.Debug("ignoring non-capture sound event",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	m.logger.Info("capture device changed",
		logging.String(logging.FieldEventType, "hotplug_capture_changed"),
		logging.String("action", string(uevent.Action)),
		logging.String("device", device),
	)
	if m.handler != nil {
		m.handler(Change{Action: string(uevent.Action), Device: device})
	}
}

// captureDevice accepts capture PCM nodes and whole sound cards.
func captureDevice(uevent netlink.UEvent) (string, bool) {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if capturePCM.MatchString(path.Base(devname)) {
			return devname, true
		}
		return "", false
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		devpath = uevent.KObj
	}
	if name := path.Base(devpath); strings.HasPrefix(name, "card") {
		return name, true
	}
	return "", false
}
