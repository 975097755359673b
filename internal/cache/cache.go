package cache

import (
	"context"
	"time"

	"github.com/xenking/tillpoint/internal/domain/catalog"
)

var _ catalog.Cache = Noop{}

// Noop satisfies catalog.Cache when no cache backend is configured. Every
// read misses and every write succeeds silently.
type Noop struct{}

func (Noop) Get(_ context.Context, _, _ string) (*catalog.Product, bool, error) {
	return nil, false, nil
}

func (Noop) Set(_ context.Context, _ *catalog.Product, _ time.Duration) error {
	return nil
}

func (Noop) Invalidate(_ context.Context, _ string, _ ...string) error {
	return nil
}
