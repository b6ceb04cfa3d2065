package api

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pagebuilder-backend-go/internal/session"
)

type redirectKey struct{}

type redirectSlot struct {
	mu   sync.Mutex
	path string
}

func (s *redirectSlot) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// withRedirect returns a context whose redirects are captured for the response.
func withRedirect(ctx context.Context) (context.Context, *redirectSlot) {
	slot := &redirectSlot{}
	return context.WithValue(ctx, redirectKey{}, slot), slot
}

type requestNavigator struct {
	logger *zap.Logger
}

// NewRequestNavigator returns a Navigator that hands redirects to the HTTP
// request that caused them. Redirects outside a request are dropped.
func NewRequestNavigator(logger *zap.Logger) session.Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return requestNavigator{logger: logger}
}

func (n requestNavigator) Redirect(ctx context.Context, path string) {
	slot, ok := ctx.Value(redirectKey{}).(*redirectSlot)
	if !ok {
		n.logger.Debug("Dropping redirect outside a request", zap.String("path", path))
		return
	}
	slot.mu.Lock()
	slot.path = path
	slot.mu.Unlock()
}
