package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/notifications"
)

type captured struct {
	calls    int
	title    string
	tags     string
	priority string
	agent    string
	body     string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.agent = r.Header.Get("User-Agent")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got.body = string(body)
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("topic rejected"))
		}
	}))
	t.Cleanup(server.Close)
	return server, got
}

func TestNtfyServiceFormatsNotifications(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "camera attached",
			send: func(s notifications.Service) error {
				return s.NotifyCameraAttached(context.Background(), "Canon EOS 80D", 42)
			},
			expectTitle:    "camwatch - Camera Attached",
			expectMessage:  "📷 Canon EOS 80D attached with 42 files",
			expectTags:     "camwatch,camera,attached",
			expectPriority: "low",
		},
		{
			name: "copy completed",
			send: func(s notifications.Service) error {
				return s.NotifyTransferCompleted(context.Background(), notifications.TransferSummary{
					DeviceName:  "Canon EOS 80D",
					CopiedFiles: 3,
					TotalFiles:  3,
					CopiedKB:    2048,
					Duration:    95 * time.Second,
				})
			},
			expectTitle:   "camwatch - Transfer Complete",
			expectMessage: "✅ Copied 3 of 3 files (2.0 MiB) from Canon EOS 80D in 1m35s",
			expectTags:    "camwatch,transfer,completed",
		},
		{
			name: "move cancelled",
			send: func(s notifications.Service) error {
				return s.NotifyTransferCompleted(context.Background(), notifications.TransferSummary{
					DeviceName:  "Nikon DSC D3200",
					Move:        true,
					Cancelled:   true,
					CopiedFiles: 2,
					TotalFiles:  5,
					CopiedKB:    1,
					Duration:    4 * time.Second,
					Destination: "/photos/nikon-dsc-d3200",
				})
			},
			expectTitle:   "camwatch - Transfer Cancelled",
			expectMessage: "⏹️ Moved 2 of 5 files (1.0 KiB) from Nikon DSC D3200 in 4s\nDestination: /photos/nikon-dsc-d3200",
			expectTags:    "camwatch,transfer,cancelled",
		},
		{
			name: "failure",
			send: func(s notifications.Service) error {
				return s.NotifyTransferFailed(context.Background(), "Canon EOS 80D", errors.New("Failed to create dir:\n/photos/canon"))
			},
			expectTitle:    "camwatch - Transfer Failed",
			expectMessage:  "❌ Transfer from Canon EOS 80D failed: Failed to create dir:\n/photos/canon",
			expectTags:     "camwatch,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := newCaptureServer(t, http.StatusOK)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
			if !strings.HasPrefix(got.agent, "camwatch/") {
				t.Fatalf("unexpected user agent %q", got.agent)
			}
		})
	}
}

func TestNtfyServiceHonorsCategorySwitches(t *testing.T) {
	server, got := newCaptureServer(t, http.StatusOK)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Transfers = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	ctx := context.Background()
	if err := svc.NotifyCameraAttached(ctx, "cam", 1); err != nil {
		t.Fatalf("attached: %v", err)
	}
	if err := svc.NotifyTransferCompleted(ctx, notifications.TransferSummary{DeviceName: "cam"}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := svc.NotifyTransferFailed(ctx, "cam", errors.New("boom")); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if got.calls != 0 {
		t.Fatalf("expected suppressed notifications, got %d calls", got.calls)
	}

	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("test notification: %v", err)
	}
	if got.calls != 1 {
		t.Fatalf("expected test notification to bypass switches, got %d calls", got.calls)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusForbidden)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected request")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic rejected") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "

	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
	if err := svc.NotifyTransferFailed(context.Background(), "cam", errors.New("boom")); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}
