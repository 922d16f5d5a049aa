package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classify failures. Wrap tags an error with one so callers
// can branch with errors.Is and ErrorHint can suggest a fix.
var (
	ErrExternalTool    = errors.New("external tool error")
	ErrTimeout         = errors.New("timeout")
	ErrVerification    = errors.New("verification failed")
	ErrDirectoryCreate = errors.New("directory creation failed")
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConfiguration   = errors.New("configuration error")
	ErrTransient       = errors.New("transient failure")
)

// Wrap formats "<marker>: component: operation: message[: cause]". A nil
// marker defaults to ErrTransient; a nil cause is omitted.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorHint maps a classified error to the next step an operator should take.
func ErrorHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "camera stopped responding; reconnect it and retry"
	case errors.Is(err, ErrDirectoryCreate):
		return "check that the destination exists and is writable"
	case errors.Is(err, ErrVerification):
		return "check free space on the destination and retry"
	case errors.Is(err, ErrExternalTool):
		return "ensure gphoto2 is installed and the camera is unlocked"
	case errors.Is(err, ErrConfiguration):
		return "review camwatch config.toml"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return "check the request arguments"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
