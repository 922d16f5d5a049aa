package gphoto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"camwatch/internal/logging"
	"camwatch/internal/procrun"
	"camwatch/internal/services"
)

// Option configures the client.
type Option func(*Client)

// WithRunner injects a custom runner (primarily for tests).
func WithRunner(runner procrun.Runner) Option {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// WithTimeouts bounds individual invocations. command applies to auto-detect,
// list and delete; transfer applies to each get-file.
func WithTimeouts(command, transfer time.Duration) Option {
	return func(c *Client) {
		c.commandTimeout = command
		c.transferTimeout = transfer
	}
}

// WithForceOverwrite controls whether get-file replaces existing local files.
func WithForceOverwrite(enabled bool) Option {
	return func(c *Client) {
		c.forceOverwrite = enabled
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client wraps gphoto2 CLI interactions.
type Client struct {
	binary          string
	runner          procrun.Runner
	commandTimeout  time.Duration
	transferTimeout time.Duration
	forceOverwrite  bool
	logger          *slog.Logger
}

// New constructs a gphoto2 client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("gphoto2 binary required")
	}
	client := &Client{
		binary:         binary,
		runner:         procrun.New(),
		forceOverwrite: true,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "gphoto")
	return client, nil
}

// AutoDetect lists attached cameras.
func (c *Client) AutoDetect(ctx context.Context) ([]Camera, error) {
	result, err := c.run(ctx, procrun.Command{
		Binary:  c.binary,
		Args:    []string{"--auto-detect"},
		Timeout: c.commandTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("auto-detect: %w", err)
	}
	return ParseAutoDetect(result.Stdout), nil
}

// ListFiles lists allowed media files on the camera at bus/port.
func (c *Client) ListFiles(ctx context.Context, bus, port int) ([]File, error) {
	result, err := c.run(ctx, procrun.Command{
		Binary:  c.binary,
		Args:    []string{"--list-files", "--port=" + PortPath(bus, port)},
		Timeout: c.commandTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("list files on %s: %w", PortPath(bus, port), err)
	}
	return ParseListing(result.Stdout), nil
}

// GetFile downloads file into destDir. gphoto2 writes the file under its
// camera-side name relative to the working directory.
func (c *Client) GetFile(ctx context.Context, bus, port int, file File, destDir string) error {
	args := []string{"--get-file=" + file.Path, "--port=" + PortPath(bus, port)}
	if c.forceOverwrite {
		args = append(args, "--force-overwrite")
	}
	_, err := c.run(ctx, procrun.Command{
		Binary:  c.binary,
		Args:    args,
		Dir:     destDir,
		Timeout: c.transferTimeout,
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", file.Path, err)
	}
	return nil
}

// DeleteFile removes file from the camera.
func (c *Client) DeleteFile(ctx context.Context, bus, port int, file File) error {
	_, err := c.run(ctx, procrun.Command{
		Binary:  c.binary,
		Args:    []string{"--delete-file=" + file.Path, "--port=" + PortPath(bus, port)},
		Timeout: c.commandTimeout,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", file.Path, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, cmd procrun.Command) (procrun.Result, error) {
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("running gphoto2", logging.String("command", cmd.String()), logging.String("dir", cmd.Dir))
	result, err := c.runner.Run(ctx, cmd)
	if err != nil {
		logger.Debug("gphoto2 failed",
			logging.String("command", cmd.String()),
			logging.Int("exit_code", result.ExitCode),
			logging.Error(err),
		)
		return result, err
	}
	// gphoto2 reports some camera-side failures on stderr with a zero exit.
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		err := services.Wrap(services.ErrExternalTool, "gphoto", c.binary, "unexpected stderr: "+stderr, nil)
		logging.WarnWithContext(logger, "gphoto2 reported errors despite success exit", "gphoto_stderr",
			logging.String("command", cmd.String()),
			logging.String("stderr", stderr),
			logging.String(logging.FieldImpact, "invocation treated as failed"),
		)
		return result, err
	}
	logger.Debug("gphoto2 finished",
		logging.String("command", cmd.String()),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}
