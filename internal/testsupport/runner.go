package testsupport

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"camwatch/internal/procrun"
	"camwatch/internal/services"
)

// FakeHandler answers one scripted invocation.
type FakeHandler func(cmd procrun.Command) (procrun.Result, error)

// FakeRunner is a scripted procrun.Runner keyed by the command's first
// argument with any "=value" suffix removed (e.g. "--get-file").
type FakeRunner struct {
	mu       sync.Mutex
	calls    []procrun.Command
	handlers map[string]FakeHandler
	// StreamFunc backs Stream; nil blocks until ctx is cancelled.
	StreamFunc func(ctx context.Context, cmd procrun.Command, onStdout, onStderr func(string)) error
}

// NewFakeRunner returns an empty scripted runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]FakeHandler)}
}

// On registers the handler for verb, replacing any earlier one.
func (f *FakeRunner) On(verb string, handler FakeHandler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[verb] = handler
	return f
}

// Run records cmd and dispatches to the registered handler.
func (f *FakeRunner) Run(ctx context.Context, cmd procrun.Command) (procrun.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	handler := f.handlers[verbOf(cmd)]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return procrun.Result{}, err
	}
	if handler == nil {
		return procrun.Result{ExitCode: 1}, services.Wrap(services.ErrExternalTool, "fake", cmd.Binary, "unexpected command "+cmd.String(), nil)
	}
	return handler(cmd)
}

// Stream delegates to StreamFunc.
func (f *FakeRunner) Stream(ctx context.Context, cmd procrun.Command, onStdout, onStderr func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	stream := f.StreamFunc
	f.mu.Unlock()
	if stream == nil {
		<-ctx.Done()
		return nil
	}
	return stream(ctx, cmd, onStdout, onStderr)
}

// Calls returns recorded invocations for verb; an empty verb returns all.
func (f *FakeRunner) Calls(verb string) []procrun.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []procrun.Command
	for _, cmd := range f.calls {
		if verb == "" || verbOf(cmd) == verb {
			out = append(out, cmd)
		}
	}
	return out
}

// Stdout answers with fixed output and a zero exit status.
func Stdout(output string) FakeHandler {
	return func(procrun.Command) (procrun.Result, error) {
		return procrun.Result{Stdout: output}, nil
	}
}

// Stderr answers with a zero exit status that still carries stderr output.
func Stderr(stdout, stderr string) FakeHandler {
	return func(procrun.Command) (procrun.Result, error) {
		return procrun.Result{Stdout: stdout, Stderr: stderr}, nil
	}
}

// Fail answers with a non-zero exit carrying stderr as the diagnostic.
func Fail(stderr string) FakeHandler {
	return func(cmd procrun.Command) (procrun.Result, error) {
		return procrun.Result{Stderr: stderr, ExitCode: 1},
			services.Wrap(services.ErrExternalTool, "procrun", cmd.Binary, "exit status 1: "+stderr, nil)
	}
}

// Download emulates gphoto2 --get-file by writing the camera-side file name
// into the command's working directory.
func Download() FakeHandler {
	return func(cmd procrun.Command) (procrun.Result, error) {
		name := path.Base(ArgValue(cmd, "--get-file"))
		if err := writePattern(filepath.Join(cmd.Dir, name), 16); err != nil {
			return procrun.Result{ExitCode: 1}, err
		}
		return procrun.Result{Stdout: fmt.Sprintf("Saving file as %s\n", name)}, nil
	}
}

// ArgValue returns the value of a "--flag=value" argument.
func ArgValue(cmd procrun.Command, flag string) string {
	for _, arg := range cmd.Args {
		if value, ok := strings.CutPrefix(arg, flag+"="); ok {
			return value
		}
	}
	return ""
}

func verbOf(cmd procrun.Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	verb, _, _ := strings.Cut(cmd.Args[0], "=")
	return verb
}
