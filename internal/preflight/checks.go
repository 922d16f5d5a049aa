package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"camwatch/internal/config"
	"camwatch/internal/deps"
)

// ntfyTimeout bounds the reachability probe.
const ntfyTimeout = 5 * time.Second

// CheckNtfy polls the topic's cached messages without subscribing, which
// proves the server answers and the topic is readable.
func CheckNtfy(ctx context.Context, topic string) Result {
	result := Result{Name: "ntfy"}
	base := strings.TrimRight(strings.TrimSpace(topic), "/")
	if base == "" {
		result.Detail = "missing topic"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, ntfyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json?poll=1&since=none", nil)
	if err != nil {
		result.Detail = fmt.Sprintf("reachability check failed (%v)", err)
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Detail = fmt.Sprintf("reachability check failed (%v)", err)
		return result
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		result.Passed, result.Detail = true, "Reachable"
	case http.StatusUnauthorized, http.StatusForbidden:
		result.Detail = "topic requires authentication"
	default:
		result.Detail = fmt.Sprintf("reachability check failed (%d)", resp.StatusCode)
	}
	return result
}

// CheckDirectoryAccess verifies that path is a directory the daemon can
// traverse, read and write, and reports the free space on its filesystem.
func CheckDirectoryAccess(name, path string) Result {
	fail := func(format string, args ...any) Result {
		return Result{Name: name, Detail: path + " (error: " + fmt.Sprintf(format, args...) + ")"}
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fail("does not exist")
	case err != nil:
		return fail("stat: %v", err)
	case !info.IsDir():
		return fail("is not a directory")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail("insufficient permissions: %v", err)
	}

	detail := path + " (read/write ok"
	var fsStat unix.Statfs_t
	if err := unix.Statfs(path, &fsStat); err == nil {
		detail += ", " + humanize.IBytes(fsStat.Bavail*uint64(fsStat.Bsize)) + " free"
	}
	return Result{Name: name, Passed: true, Detail: detail + ")"}
}

// CheckSystemDeps evaluates the external binaries required by cfg. Both the
// daemon and the CLI use this so the requirement list lives in one place.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "gphoto2",
			Command:     cfg.GphotoBinary(),
			Description: "Required for camera detection and transfers",
		},
		{
			Name:        "udevadm",
			Command:     cfg.Hotplug.UdevadmBinary,
			Description: "Required for automatic camera detection",
			Optional:    cfg.Hotplug.Source != config.HotplugSourceUdevadm,
		},
	}
	return deps.CheckBinaries(requirements)
}
