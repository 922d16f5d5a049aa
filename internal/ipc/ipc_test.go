package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"camwatch/internal/daemon"
	"camwatch/internal/device"
	"camwatch/internal/ipc"
	"camwatch/internal/logging"
	"camwatch/internal/testsupport"
)

const (
	autoDetectOutput = "Model                          Port\n" +
		"----------------------------------------------------------\n" +
		"Nikon Z 6                      usb:002,007\n"
	listingOutput = "There is 1 file in folder '/DCIM/100NIKON'\n" +
		"#1     DSC_0001.NEF               rd 24576 KB image/x-nikon-nef 1700000000\n"
)

// startServer runs a daemon with a fake gphoto2 and serves it on a socket
// under a short temp dir; unix socket paths are length limited.
func startServer(t *testing.T) (*ipc.Client, *daemon.Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSettings(t, cfg)
	runner := testsupport.NewFakeRunner().
		On("--auto-detect", testsupport.Stdout(autoDetectOutput)).
		On("--list-files", testsupport.Stdout(listingOutput)).
		On("--get-file", testsupport.Download())
	logger := logging.NewNop()

	d, err := daemon.New(cfg, store, logger, daemon.WithRunner(runner), daemon.WithHotplugSource(nil))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	dir, err := os.MkdirTemp("", "cw-ipc")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "camwatch.sock")

	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	// Cleanups run LIFO, so the client hangs up before Close waits on it.
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = client.Close() })
	return client, d
}

func waitState(t *testing.T, client *ipc.Client, want device.State) ipc.DeviceView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last ipc.DeviceView
	for time.Now().Before(deadline) {
		resp, err := client.Device("usb:002,007")
		if err == nil {
			last = resp.Device
			if last.State == want.String() {
				return last
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("camera never reached %s; last %+v", want, last)
	return last
}

func TestIPCServerClient(t *testing.T) {
	client, _ := startServer(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Status.Running || status.Status.Devices != 1 {
		t.Fatalf("unexpected status %+v", status.Status)
	}

	view := waitState(t, client, device.Idle)
	if view.Name != "Nikon Z 6" || view.View.Description != "Found 1 file" {
		t.Fatalf("unexpected device view %+v", view)
	}

	devices, err := client.Devices()
	if err != nil {
		t.Fatalf("Devices RPC failed: %v", err)
	}
	if len(devices.Devices) != 1 || devices.Devices[0].PortPath != "usb:002,007" {
		t.Fatalf("unexpected devices %+v", devices.Devices)
	}

	files, err := client.Files("002,007")
	if err != nil {
		t.Fatalf("Files RPC failed: %v", err)
	}
	if len(files.Files) != 1 || files.Files[0].Name != "DSC_0001.NEF" {
		t.Fatalf("unexpected files %+v", files.Files)
	}

	if _, err := client.Confirm("002,007"); err == nil {
		t.Fatal("expected confirm from idle to be rejected")
	}
	if _, err := client.Device("not-a-port"); err == nil {
		t.Fatal("expected malformed device to be rejected")
	}

	events, err := client.Events(ipc.EventsRequest{})
	if err != nil {
		t.Fatalf("Events RPC failed: %v", err)
	}
	if len(events.Events) == 0 || events.Events[0].Type != daemon.EventDeviceAdded {
		t.Fatalf("expected device_added first, got %+v", events.Events)
	}

	staged, err := client.Transfer("usb:002,007", false)
	if err != nil {
		t.Fatalf("Transfer RPC failed: %v", err)
	}
	if staged.Action != "copy" || staged.State != device.VerifyTransfer.String() {
		t.Fatalf("unexpected transfer response %+v", staged)
	}

	confirmed, err := client.Confirm("usb:002,007")
	if err != nil {
		t.Fatalf("Confirm RPC failed: %v", err)
	}
	if confirmed.JobID == "" {
		t.Fatal("expected job id from confirm")
	}
	waitState(t, client, device.Done)

	history, err := client.History(5)
	if err != nil {
		t.Fatalf("History RPC failed: %v", err)
	}
	if len(history.Records) != 1 || history.Records[0].JobID != confirmed.JobID || history.Records[0].CopiedFiles != 1 {
		t.Fatalf("unexpected history %+v", history.Records)
	}

	if _, err := client.Ack("usb:002,007"); err != nil {
		t.Fatalf("Ack RPC failed: %v", err)
	}
	waitState(t, client, device.Idle)

	refreshed, err := client.Refresh()
	if err != nil {
		t.Fatalf("Refresh RPC failed: %v", err)
	}
	if refreshed.Devices != 1 {
		t.Fatalf("expected one camera after refresh, got %d", refreshed.Devices)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent || notify.Message == "" {
		t.Fatalf("expected unsent notification with message, got %+v", notify)
	}
}

func TestIPCDestination(t *testing.T) {
	client, d := startServer(t)
	waitState(t, client, device.Idle)

	current, err := client.DestinationGet("usb:002,007")
	if err != nil {
		t.Fatalf("DestinationGet: %v", err)
	}
	if !filepath.IsAbs(current.Path) || filepath.Base(current.Path) != "photos" {
		t.Fatalf("expected configured default destination, got %q", current.Path)
	}

	target := filepath.Join(filepath.Dir(current.Path), "nikon")
	set, err := client.DestinationSet("usb:002,007", target)
	if err != nil {
		t.Fatalf("DestinationSet: %v", err)
	}
	if set.Path != target {
		t.Fatalf("expected %q, got %q", target, set.Path)
	}
	view, err := d.Device(context.Background(), device.ID{Bus: 2, Port: 7})
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if view.Destination != target {
		t.Fatalf("expected attached camera to pick up %q, got %q", target, view.Destination)
	}

	if _, err := client.DestinationSet("usb:002,007", "relative/path"); err == nil {
		t.Fatal("expected relative destination to be rejected")
	}
}

func TestIPCEventsWait(t *testing.T) {
	client, d := startServer(t)
	waitState(t, client, device.Idle)

	head, err := client.Events(ipc.EventsRequest{})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	empty, err := client.Events(ipc.EventsRequest{Since: head.Next, WaitMillis: 20})
	if err != nil {
		t.Fatalf("Events wait: %v", err)
	}
	if len(empty.Events) != 0 || empty.Next != head.Next {
		t.Fatalf("expected empty page at head, got %+v", empty)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = d.RequestTransfer(context.Background(), device.ID{Bus: 2, Port: 7}, true)
	}()
	next, err := client.Events(ipc.EventsRequest{Since: head.Next, WaitMillis: 5000})
	if err != nil {
		t.Fatalf("Events follow: %v", err)
	}
	if len(next.Events) == 0 || next.Events[0].State != device.VerifyTransfer.String() {
		t.Fatalf("expected verify_transfer event, got %+v", next.Events)
	}
}
