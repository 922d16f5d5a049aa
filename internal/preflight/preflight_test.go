package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"camwatch/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
	if !strings.HasPrefix(result.Detail, dir+" (read/write ok") || !strings.HasSuffix(result.Detail, " free)") {
		t.Fatalf("expected free space in detail, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckNtfy(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/cams/json" || r.URL.Query().Get("poll") != "1" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		result := CheckNtfy(context.Background(), srv.URL+"/cams/")
		if !result.Passed {
			t.Fatalf("expected pass, got: %s", result.Detail)
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		result := CheckNtfy(context.Background(), srv.URL+"/cams")
		if result.Passed || result.Detail != "topic requires authentication" {
			t.Fatalf("unexpected result %+v", result)
		}
	})

	t.Run("missing topic", func(t *testing.T) {
		if result := CheckNtfy(context.Background(), " "); result.Passed {
			t.Fatal("expected failure for missing topic")
		}
	})
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.DefaultDestination = t.TempDir()
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestRunAll_ReportsMissingDestination(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.DefaultDestination = filepath.Join(t.TempDir(), "missing")

	failed := Failed(RunAll(context.Background(), &cfg))
	if len(failed) != 1 || failed[0].Name != "Default destination" {
		t.Fatalf("expected destination failure, got %+v", failed)
	}
}

func TestCheckSystemDepsMarksUdevadmOptional(t *testing.T) {
	cfg := config.Default()
	cfg.Gphoto.Binary = "clearly-not-present-gphoto2"
	cfg.Hotplug.Source = config.HotplugSourceNetlink

	statuses := CheckSystemDeps(&cfg)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "gphoto2" || statuses[0].Available || statuses[0].Optional {
		t.Fatalf("unexpected gphoto2 status %+v", statuses[0])
	}
	if statuses[1].Name != "udevadm" || !statuses[1].Optional {
		t.Fatalf("expected optional udevadm with netlink source, got %+v", statuses[1])
	}
}
