package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/dispatch"
	"camwatch/internal/gphoto"
	"camwatch/internal/logging"
	"camwatch/internal/notifications"
	"camwatch/internal/procrun"
	"camwatch/internal/services"
	"camwatch/internal/settings"
	"camwatch/internal/testsupport"
	"camwatch/internal/transfer"
)

var testID = device.ID{Bus: 1, Port: 4}

// devices is a Lookup touched only on the loop.
type devices map[device.ID]*device.Device

func (d devices) Device(id device.ID) (*device.Device, bool) {
	dev, ok := d[id]
	return dev, ok
}

type recorder struct {
	mu      sync.Mutex
	changes []device.StateChange
}

func (r *recorder) DeviceStateChanged(_ *device.Device, change device.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recorder) snapshot() []device.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.StateChange(nil), r.changes...)
}

func (r *recorder) stats() []device.Stats {
	var out []device.Stats
	for _, change := range r.snapshot() {
		if change.State == device.Transferring && change.Payload.Kind == device.PayloadStats {
			out = append(out, change.Payload.Stats)
		}
	}
	return out
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type harness struct {
	loop     *dispatch.Loop
	runner   *testsupport.FakeRunner
	devices  devices
	orch     *transfer.Orchestrator
	recorder *recorder
	store    *settings.Store
	dest     string
}

func newHarness(t *testing.T, opts ...transfer.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSettings(t, cfg)
	runner := testsupport.NewFakeRunner()
	client, err := gphoto.New("gphoto2", gphoto.WithRunner(runner))
	if err != nil {
		t.Fatalf("gphoto.New: %v", err)
	}

	loop := dispatch.New(logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()

	h := &harness{
		loop:     loop,
		runner:   runner,
		devices:  devices{},
		recorder: &recorder{},
		store:    store,
		dest:     cfg.Paths.DefaultDestination,
	}
	defaults := []transfer.Option{
		transfer.WithStore(store),
		transfer.WithDefaultDestination(cfg.Paths.DefaultDestination),
		transfer.WithClock(&stepClock{now: time.Unix(1_700_000_000, 0), step: time.Second}),
		transfer.WithLogger(logging.NewNop()),
	}
	h.orch = transfer.New(loop, h.devices, client, append(defaults, opts...)...)
	h.orch.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.orch.Wait()
	})
	return h
}

// call runs fn on the loop and waits; it also flushes earlier posts.
func (h *harness) call(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.loop.Call(ctx, fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
}

func (h *harness) addDevice(t *testing.T, name string, count int, destination string) {
	t.Helper()
	files := make([]gphoto.File, 0, count)
	for i := 1; i <= count; i++ {
		fileName := fmt.Sprintf("IMG_%04d.JPG", i)
		files = append(files, gphoto.File{
			Index:  i,
			Folder: "/store_00010001/DCIM/100CANON",
			Name:   fileName,
			Path:   "/store_00010001/DCIM/100CANON/" + fileName,
			SizeKB: 100,
		})
	}
	h.call(t, func() {
		dev := device.New(name, testID, device.WithListener(h.recorder))
		dev.SetFiles(files)
		dev.SetDestination(destination)
		dev.SetState(device.Idle, device.MessagePayload(fmt.Sprintf("Files on device: %d", count)))
		h.devices[testID] = dev
	})
}

func (h *harness) finish(t *testing.T) device.Snapshot {
	t.Helper()
	h.orch.Wait()
	var snap device.Snapshot
	h.call(t, func() {
		if dev, ok := h.devices[testID]; ok {
			snap = dev.Snapshot()
		}
	})
	return snap
}

func (h *harness) history(t *testing.T) []settings.TransferRecord {
	t.Helper()
	records, err := h.store.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	return records
}

func TestCopyTransfersEveryFile(t *testing.T) {
	h := newHarness(t)
	h.runner.On("--get-file", testsupport.Download())
	h.addDevice(t, "Canon EOS 80D", 5, h.dest)

	jobID, err := h.orch.DownloadFiles(context.Background(), testID, false)
	if err != nil {
		t.Fatalf("DownloadFiles: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected job id")
	}
	snap := h.finish(t)

	if snap.State != device.Done.String() {
		t.Fatalf("expected done, got %s (%+v)", snap.State, snap.Payload)
	}
	if !strings.HasPrefix(snap.Payload.Message, "Done! Copied 5 files. Took 00:00:") {
		t.Fatalf("unexpected summary %q", snap.Payload.Message)
	}
	for i := 1; i <= 5; i++ {
		path := filepath.Join(h.dest, "canon-eos-80d", fmt.Sprintf("IMG_%04d.JPG", i))
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
	}
	if calls := h.runner.Calls("--delete-file"); len(calls) != 0 {
		t.Fatalf("copy must not delete originals, got %d delete calls", len(calls))
	}
	for _, call := range h.runner.Calls("--get-file") {
		if testsupport.ArgValue(call, "--port") != "usb:001,004" {
			t.Fatalf("unexpected port in %s", call.String())
		}
	}

	stats := h.recorder.stats()
	if len(stats) != 5 {
		t.Fatalf("expected one progress publish per file, got %d", len(stats))
	}
	if stats[0].KBps != 0 || stats[0].ETA != 0 || stats[0].CopiedFiles != 0 {
		t.Fatalf("expected zero throughput before the first file, got %+v", stats[0])
	}
	if stats[1].KBps <= 0 || stats[1].CopiedFiles != 1 {
		t.Fatalf("expected throughput after the first file, got %+v", stats[1])
	}
	if stats[4].TotalKB != 500 || stats[4].CopiedKB != 400 {
		t.Fatalf("unexpected final progress %+v", stats[4])
	}

	records := h.history(t)
	if len(records) != 1 {
		t.Fatalf("expected one history record, got %d", len(records))
	}
	if records[0].JobID != jobID || records[0].Outcome != settings.OutcomeCompleted || records[0].CopiedFiles != 5 || records[0].CopiedKB != 500 {
		t.Fatalf("unexpected history record %+v", records[0])
	}
	if _, running := h.orch.Active(testID); running {
		t.Fatal("expected job to be released")
	}
}

func TestCancelStopsBetweenFiles(t *testing.T) {
	h := newHarness(t)
	download := testsupport.Download()
	var (
		mu    sync.Mutex
		count int
	)
	h.runner.On("--get-file", func(cmd procrun.Command) (procrun.Result, error) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n == 2 {
			h.orch.CancelDownload(testID)
		}
		return download(cmd)
	})
	h.addDevice(t, "Canon EOS 80D", 5, h.dest)

	if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
		t.Fatalf("DownloadFiles: %v", err)
	}
	snap := h.finish(t)

	if got := len(h.runner.Calls("--get-file")); got != 2 {
		t.Fatalf("expected 2 transfers before cancel took effect, got %d", got)
	}
	if snap.State != device.Done.String() || !strings.HasPrefix(snap.Payload.Message, "Done! Copied 2 files.") {
		t.Fatalf("unexpected final state %s %q", snap.State, snap.Payload.Message)
	}
	sawCancel := false
	for _, change := range h.recorder.snapshot() {
		if change.State == device.Cancel {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Fatal("expected a cancel transition")
	}
	records := h.history(t)
	if len(records) != 1 || records[0].Outcome != settings.OutcomeCancelled || records[0].CopiedFiles != 2 {
		t.Fatalf("unexpected history %+v", records)
	}
}

// hookClock runs hook once on the first Now after armed is set.
type hookClock struct {
	stepClock
	mu    sync.Mutex
	armed bool
	fired bool
	hook  func()
}

func (c *hookClock) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

func (c *hookClock) Now() time.Time {
	c.mu.Lock()
	run := c.armed && !c.fired
	if run {
		c.fired = true
	}
	c.mu.Unlock()
	if run {
		c.hook()
	}
	return c.stepClock.Now()
}

func TestCancelBeforeProgressUpdateIsKept(t *testing.T) {
	clock := &hookClock{stepClock: stepClock{now: time.Unix(1_700_000_000, 0), step: time.Second}}
	h := newHarness(t, transfer.WithClock(clock))
	clock.hook = func() {
		// The state poll for the next file has already run; the cancel commits
		// before its progress update is posted.
		h.orch.CancelDownload(testID)
		_ = h.loop.Call(context.Background(), func() {})
	}
	download := testsupport.Download()
	h.runner.On("--get-file", func(cmd procrun.Command) (procrun.Result, error) {
		result, err := download(cmd)
		clock.arm()
		return result, err
	})
	h.addDevice(t, "Canon EOS 80D", 5, h.dest)

	if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
		t.Fatalf("DownloadFiles: %v", err)
	}
	snap := h.finish(t)

	if got := len(h.runner.Calls("--get-file")); got != 2 {
		t.Fatalf("expected the file in flight to finish and no more, got %d get-file calls", got)
	}
	if !strings.HasPrefix(snap.Payload.Message, "Done! Copied 2 files.") {
		t.Fatalf("unexpected final message %q", snap.Payload.Message)
	}
	changes := h.recorder.snapshot()
	for i, change := range changes {
		if change.State == device.Cancel && i+1 < len(changes) {
			if next := changes[i+1]; next.State == device.Transferring {
				t.Fatalf("cancel overwritten by progress update %+v", next)
			}
		}
	}
}

func TestSlotFreedBeforeNotificationsFinish(t *testing.T) {
	notifier := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, transfer.WithNotifier(notifier))
	h.runner.On("--get-file", testsupport.Download())
	h.addDevice(t, "Canon EOS 80D", 1, h.dest)

	if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
		t.Fatalf("DownloadFiles: %v", err)
	}
	select {
	case <-notifier.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("completion notification never sent")
	}

	h.call(t, func() {
		dev := h.devices[testID]
		if dev.State() != device.Done {
			t.Errorf("expected done while notifying, got %s", dev.State())
		}
		dev.SetState(device.Idle, device.MessagePayload("Files on device: 1"))
	})
	if _, running := h.orch.Active(testID); running {
		t.Fatal("expected slot to be free once done is shown")
	}
	if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
		t.Fatalf("follow-up DownloadFiles: %v", err)
	}
	close(notifier.release)
	if snap := h.finish(t); snap.State != device.Done.String() {
		t.Fatalf("expected done, got %s", snap.State)
	}
}

// blockingNotifier holds the first completion notification until released.
type blockingNotifier struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) NotifyCameraAttached(context.Context, string, int) error { return nil }

func (n *blockingNotifier) NotifyTransferCompleted(ctx context.Context, _ notifications.TransferSummary) error {
	first := false
	n.once.Do(func() { first = true })
	if !first {
		return nil
	}
	close(n.entered)
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return nil
}

func (n *blockingNotifier) NotifyTransferFailed(context.Context, string, error) error { return nil }

func (n *blockingNotifier) TestNotification(context.Context) error { return nil }

func TestMoveDeletesOriginals(t *testing.T) {
	h := newHarness(t)
	h.runner.On("--get-file", testsupport.Download())
	h.runner.On("--delete-file", testsupport.Stdout(""))
	h.addDevice(t, "Nikon DSC D3200", 3, h.dest)

	if _, err := h.orch.DownloadFiles(context.Background(), testID, true); err != nil {
		t.Fatalf("DownloadFiles: %v", err)
	}
	snap := h.finish(t)

	if snap.State != device.Done.String() {
		t.Fatalf("expected done, got %s %q", snap.State, snap.Payload.Message)
	}
	deletes := h.runner.Calls("--delete-file")
	if len(deletes) != 3 {
		t.Fatalf("expected 3 deletions, got %d", len(deletes))
	}
	if got := testsupport.ArgValue(deletes[0], "--delete-file"); got != "/store_00010001/DCIM/100CANON/IMG_0001.JPG" {
		t.Fatalf("unexpected deleted path %q", got)
	}
	first := h.recorder.snapshot()[1]
	if first.State != device.Transferring || first.Payload.Kind != device.PayloadRemoveOriginals || !first.Payload.RemoveOriginals {
		t.Fatalf("expected transferring with remove-originals payload, got %+v", first)
	}
}

func TestTransferFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, h *harness) string
		wantMessage func(h *harness) string
		wantGets    int
	}{
		{
			name: "directory cannot be created",
			setup: func(t *testing.T, h *harness) string {
				blocker := filepath.Join(h.dest, "not-a-dir")
				testsupport.WriteFile(t, blocker, 1)
				h.runner.On("--get-file", testsupport.Download())
				return blocker
			},
			wantMessage: func(h *harness) string {
				return "Failed to create dir:\n" + filepath.Join(h.dest, "not-a-dir", "canon-eos-80d")
			},
			wantGets: 0,
		},
		{
			name: "file missing after download",
			setup: func(t *testing.T, h *harness) string {
				h.runner.On("--get-file", testsupport.Stdout(""))
				return h.dest
			},
			wantMessage: func(*harness) string { return "File not copied" },
			wantGets:    1,
		},
		{
			name: "tool failure",
			setup: func(t *testing.T, h *harness) string {
				h.runner.On("--get-file", testsupport.Fail("*** Error (-52: 'Could not find the requested device on the USB port') ***"))
				return h.dest
			},
			wantMessage: func(*harness) string { return "Could not find the requested device" },
			wantGets:    1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			destination := tc.setup(t, h)
			h.addDevice(t, "Canon EOS 80D", 3, destination)

			if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
				t.Fatalf("DownloadFiles: %v", err)
			}
			snap := h.finish(t)

			if snap.State != device.Error.String() {
				t.Fatalf("expected error state, got %s", snap.State)
			}
			if want := tc.wantMessage(h); !strings.Contains(snap.Payload.Message, want) {
				t.Fatalf("expected message containing %q, got %q", want, snap.Payload.Message)
			}
			if got := len(h.runner.Calls("--get-file")); got != tc.wantGets {
				t.Fatalf("expected %d get-file calls, got %d", tc.wantGets, got)
			}
			records := h.history(t)
			if len(records) != 1 || records[0].Outcome != settings.OutcomeFailed || records[0].CopiedFiles != 0 {
				t.Fatalf("unexpected history %+v", records)
			}
		})
	}
}

func TestSecondTransferIsRefused(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	download := testsupport.Download()
	h.runner.On("--get-file", func(cmd procrun.Command) (procrun.Result, error) {
		<-release
		return download(cmd)
	})
	h.addDevice(t, "Canon EOS 80D", 1, h.dest)

	if _, err := h.orch.DownloadFiles(context.Background(), testID, false); err != nil {
		t.Fatalf("first DownloadFiles: %v", err)
	}
	if _, err := h.orch.DownloadFiles(context.Background(), testID, true); !errors.Is(err, transfer.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if snap := h.finish(t); snap.State != device.Done.String() {
		t.Fatalf("expected done, got %s", snap.State)
	}
}

func TestDownloadPreconditions(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		h := newHarness(t)
		h.addDevice(t, "Canon EOS 80D", 0, h.dest)
		if _, err := h.orch.DownloadFiles(context.Background(), testID, false); !errors.Is(err, transfer.ErrNoFiles) {
			t.Fatalf("expected ErrNoFiles, got %v", err)
		}
	})
	t.Run("no destination", func(t *testing.T) {
		h := newHarness(t)
		h.addDevice(t, "Canon EOS 80D", 2, "")
		if _, err := h.orch.DownloadFiles(context.Background(), testID, false); !errors.Is(err, transfer.ErrNoDestination) {
			t.Fatalf("expected ErrNoDestination, got %v", err)
		}
	})
	t.Run("precondition fails", func(t *testing.T) {
		h := newHarness(t)
		h.runner.On("--get-file", testsupport.Download())
		h.addDevice(t, "Canon EOS 80D", 2, h.dest)
		errDeclined := errors.New("transfer declined")
		notProposed := func(dev *device.Device) error {
			if dev.State() != device.VerifyTransfer {
				return errDeclined
			}
			return nil
		}
		if _, err := h.orch.DownloadFiles(context.Background(), testID, false, notProposed); !errors.Is(err, errDeclined) {
			t.Fatalf("expected precondition error, got %v", err)
		}
		if snap := h.finish(t); snap.State != device.Idle.String() {
			t.Fatalf("expected device left idle, got %s", snap.State)
		}
		if _, running := h.orch.Active(testID); running {
			t.Fatal("no job should be claimed")
		}
		if calls := h.runner.Calls("--get-file"); len(calls) != 0 {
			t.Fatalf("expected no transfers, got %d", len(calls))
		}
	})
	t.Run("unknown device", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.orch.DownloadFiles(context.Background(), testID, false); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

const listing = `There is no file in folder '/'.
There are 2 files in folder '/store_00010001/DCIM/100CANON'.
#1     IMG_0001.JPG               rd  5120 KB image/jpeg 1700000000
#2     MVI_0002.MOV               rd 81920 KB video/quicktime 1700000100
#3     IMG_0001.XMP               rd     1 KB application/xml 1700000000
`

func TestListFilesPopulatesDevice(t *testing.T) {
	h := newHarness(t)
	h.runner.On("--list-files", testsupport.Stdout(listing))
	if err := h.store.SetDestination(context.Background(), "Canon EOS 80D", "/mnt/photos"); err != nil {
		t.Fatalf("SetDestination: %v", err)
	}

	h.call(t, func() {
		dev := device.New("Canon EOS 80D", testID, device.WithListener(h.recorder))
		h.devices[testID] = dev
		h.orch.ListFiles(dev)
	})
	snap := h.finish(t)

	changes := h.recorder.snapshot()
	if changes[0].State != device.Init || changes[0].Payload.Message != "Listing files..." {
		t.Fatalf("expected listing status first, got %+v", changes[0])
	}
	if snap.State != device.Idle.String() || snap.Payload.Message != "Files on device: 2" {
		t.Fatalf("unexpected state %s %q", snap.State, snap.Payload.Message)
	}
	if snap.FileCount != 2 || snap.TotalKB != 5120+81920 {
		t.Fatalf("unexpected inventory %+v", snap)
	}
	if snap.Destination != "/mnt/photos" {
		t.Fatalf("expected stored destination, got %q", snap.Destination)
	}
	if calls := h.runner.Calls("--list-files"); len(calls) != 1 || testsupport.ArgValue(calls[0], "--port") != "usb:001,004" {
		t.Fatalf("unexpected list calls %+v", calls)
	}
}

func TestListFilesFailureSetsError(t *testing.T) {
	h := newHarness(t)
	h.runner.On("--list-files", testsupport.Fail("*** Error: No camera found. ***"))

	h.call(t, func() {
		dev := device.New("Canon EOS 80D", testID, device.WithListener(h.recorder))
		h.devices[testID] = dev
		h.orch.ListFiles(dev)
	})
	snap := h.finish(t)

	if snap.State != device.Error.String() {
		t.Fatalf("expected error state, got %s", snap.State)
	}
	if !strings.Contains(snap.Payload.Message, "No camera found") {
		t.Fatalf("expected diagnostic in message, got %q", snap.Payload.Message)
	}
}

func TestListFilesSkipsRemovedDevice(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.runner.On("--list-files", func(procrun.Command) (procrun.Result, error) {
		<-release
		return procrun.Result{Stdout: listing}, nil
	})

	var dev *device.Device
	h.call(t, func() {
		dev = device.New("Canon EOS 80D", testID, device.WithListener(h.recorder))
		h.devices[testID] = dev
		h.orch.ListFiles(dev)
	})
	h.call(t, func() {
		dev.MarkRemoved()
		delete(h.devices, testID)
	})
	close(release)
	h.finish(t)

	var count int
	h.call(t, func() { count = dev.FileCount() })
	if count != 0 {
		t.Fatalf("expected removed device to be left alone, got %d files", count)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{59*time.Second + 600*time.Millisecond, "00:01:00"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{-time.Second, "00:00:00"},
	}
	for _, tc := range tests {
		if got := transfer.FormatElapsed(tc.in); got != tc.want {
			t.Fatalf("FormatElapsed(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
