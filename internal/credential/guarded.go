package credential

import (
	"context"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/fireshield/fsclient/internal/logging"
	"github.com/fireshield/fsclient/internal/security"
)

// Guarded fronts a backend with an in-memory copy. Every Get consults the
// backend, so a login or logout by another process sharing it is seen on the
// next read. The copy answers when the backend read fails or when the last
// write never reached the backend; with no copy yet, a failed read reports
// "no credential" so the client falls back to logged-out. Write failures are
// logged and swallowed.
type Guarded struct {
	backend Store
	logger  hclog.Logger

	mu         sync.Mutex
	loaded     bool
	unsynced   bool
	token      string
	present    bool
	backendErr error
}

func NewGuarded(backend Store, logger hclog.Logger) *Guarded {
	if backend == nil {
		backend = NewMemory()
	}
	return &Guarded{backend: backend, logger: logging.OrNull(logger).Named("credential")}
}

// Set persists the token before it becomes visible to Get.
func (g *Guarded) Set(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.backend.Set(ctx, token)
	g.backendErr = err
	g.unsynced = err != nil
	if err != nil {
		g.logger.Warn("persist credential failed; keeping in-memory copy", "token", security.MaskToken(token), "error", err)
	}
	g.token = token
	g.present = true
	g.loaded = true
	return nil
}

func (g *Guarded) Get(ctx context.Context) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsynced {
		return g.token, g.present, nil
	}
	token, present, err := g.backend.Get(ctx)
	g.backendErr = err
	if err != nil {
		if g.loaded {
			g.logger.Debug("read credential failed; using in-memory copy", "error", err)
			return g.token, g.present, nil
		}
		g.logger.Warn("read credential failed; treating as logged out", "error", err)
		return "", false, nil
	}
	if present != g.present && g.loaded {
		g.logger.Info("credential changed by another client", "present", present)
	}
	g.token, g.present, g.loaded = token, present, true
	return token, present, nil
}

// Clear drops the in-memory copy first so no later reader observes it, then
// removes the persisted copy.
func (g *Guarded) Clear(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
	g.present = false
	g.loaded = true
	err := g.backend.Clear(ctx)
	g.backendErr = err
	g.unsynced = err != nil
	if err != nil {
		g.logger.Warn("remove persisted credential failed", "error", err)
	}
	return nil
}

// BackendError returns the error of the most recent backend call, if any.
func (g *Guarded) BackendError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backendErr
}
