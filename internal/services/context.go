package services

import "context"

type contextKey int

const (
	deviceKey contextKey = iota
	jobIDKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// WithDevice annotates ctx with a camera port path (usb:BBB,PPP).
func WithDevice(ctx context.Context, device string) context.Context {
	return withValue(ctx, deviceKey, device)
}

func DeviceFromContext(ctx context.Context) (string, bool) { return lookup(ctx, deviceKey) }

// WithJobID annotates ctx with a listing or transfer job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, jobIDKey, id)
}

func JobIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, jobIDKey) }

// WithRequestID annotates ctx with the id of the IPC or HTTP request that
// triggered the work.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return lookup(ctx, requestIDKey) }
