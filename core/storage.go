package core

import (
	"context"
	"io"
)

// FileStorage stores uploaded files and hands out time-limited download URLs.
type FileStorage interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	SignedURL(ctx context.Context, key string) (string, error)
}

// Throttle counts failed attempts per key (eg. login email) within a lockout window.
type Throttle interface {
	Allowed(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}
