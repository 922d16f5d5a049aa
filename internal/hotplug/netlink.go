package hotplug

import (
	"context"
	"log/slog"

	"github.com/pilebones/go-udev/netlink"

	"camwatch/internal/logging"
	"camwatch/internal/services"
)

// NetlinkSource reads kernel uevents directly from a netlink socket, which
// avoids the udevadm child process.
type NetlinkSource struct {
	logger *slog.Logger
}

// NewNetlinkSource constructs a netlink-backed source.
func NewNetlinkSource(logger *slog.Logger) *NetlinkSource {
	return &NetlinkSource{logger: logging.NewComponentLogger(logger, "netlink-monitor")}
}

// Name identifies the source in logs.
func (s *NetlinkSource) Name() string { return "netlink" }

// Run listens until ctx is cancelled.
func (s *NetlinkSource) Run(ctx context.Context, emit func(Event)) error {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.KernelEvent); err != nil {
		return services.Wrap(services.ErrConfiguration, "hotplug", "netlink connect",
			"ensure the daemon may open netlink sockets", err)
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, usbDeviceMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return nil
		case uevent := <-queue:
			emit(eventFromUEvent(uevent))
		case err := <-errs:
			s.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera hotplug detection may be delayed"),
			)
		}
	}
}

// usbDeviceMatcher matches SUBSYSTEM=usb, DEVTYPE=usb_device, ACTION=bind|unbind.
func usbDeviceMatcher() netlink.Matcher {
	action := "^(bind|unbind)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^usb$",
			"DEVTYPE":   "^usb_device$",
		},
	})
	return rules
}

func eventFromUEvent(uevent netlink.UEvent) Event {
	path := uevent.Env["DEVPATH"]
	if path == "" {
		path = uevent.KObj
	}
	return Event{
		Action:    string(uevent.Action),
		Path:      path,
		Subsystem: uevent.Env["SUBSYSTEM"],
	}
}
