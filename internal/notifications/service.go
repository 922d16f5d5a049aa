package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"camwatch/internal/config"
)

const userAgent = "camwatch/0.1.0"

// TransferSummary describes a finished transfer job.
type TransferSummary struct {
	DeviceName  string
	Move        bool
	Cancelled   bool
	CopiedFiles int
	TotalFiles  int
	CopiedKB    int64
	Duration    time.Duration
	Destination string
}

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyCameraAttached(ctx context.Context, deviceName string, fileCount int) error
	NotifyTransferCompleted(ctx context.Context, summary TransferSummary) error
	NotifyTransferFailed(ctx context.Context, deviceName string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		transfers: cfg.Notifications.Transfers,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	transfers bool
	errors    bool
}

func (n *ntfyService) NotifyCameraAttached(ctx context.Context, deviceName string, fileCount int) error {
	if !n.transfers {
		return nil
	}
	data := payload{
		title:    "camwatch - Camera Attached",
		message:  fmt.Sprintf("📷 %s attached with %d files", strings.TrimSpace(deviceName), fileCount),
		tags:     []string{"camwatch", "camera", "attached"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTransferCompleted(ctx context.Context, summary TransferSummary) error {
	if !n.transfers {
		return nil
	}
	verb := "Copied"
	if summary.Move {
		verb = "Moved"
	}
	message := fmt.Sprintf("%s %d of %d files (%s) from %s in %s",
		verb,
		summary.CopiedFiles,
		summary.TotalFiles,
		humanize.IBytes(uint64(max(summary.CopiedKB, 0))*1024),
		strings.TrimSpace(summary.DeviceName),
		summary.Duration.Round(time.Second),
	)
	if summary.Destination != "" {
		message += "\nDestination: " + summary.Destination
	}
	data := payload{
		title:   "camwatch - Transfer Complete",
		message: "✅ " + message,
		tags:    []string{"camwatch", "transfer", "completed"},
	}
	if summary.Cancelled {
		data.title = "camwatch - Transfer Cancelled"
		data.message = "⏹️ " + message
		data.tags = []string{"camwatch", "transfer", "cancelled"}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTransferFailed(ctx context.Context, deviceName string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Transfer from ")
	builder.WriteString(strings.TrimSpace(deviceName))
	builder.WriteString(" failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "camwatch - Transfer Failed",
		message:  builder.String(),
		tags:     []string{"camwatch", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "camwatch - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"camwatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyCameraAttached(context.Context, string, int) error        { return nil }
func (noopService) NotifyTransferCompleted(context.Context, TransferSummary) error { return nil }
func (noopService) NotifyTransferFailed(context.Context, string, error) error      { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
