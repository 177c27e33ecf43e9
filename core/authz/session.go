package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/suriaral/core"
	"github.com/trezcool/suriaral/core/access"
	"github.com/trezcool/suriaral/core/identity"
	"github.com/trezcool/suriaral/core/profile"
	"github.com/trezcool/suriaral/storage/kv"
)

// DefaultResolveTimeout bounds the wait for the first profile snapshot after sign-in.
const DefaultResolveTimeout = 5 * time.Second

// ProfileSubscriber is the part of profile.Store a Watcher needs.
type ProfileSubscriber interface {
	Subscribe(ctx context.Context, uid string, onChange func(profile.Snapshot)) (kv.Unsubscribe, error)
}

var _ ProfileSubscriber = (*profile.Store)(nil)

// CurrentSession is what callers pass around to authorize actions.
// Profile is nil while unknown (loading, absent, or unreadable).
type CurrentSession struct {
	Identity identity.Identity
	Profile  *profile.Profile
	Loading  bool
}

// Can authorizes perm against the session profile, or against override when one is given.
func (s CurrentSession) Can(perm access.Permission, override ...*profile.Profile) bool {
	p := s.Profile
	if len(override) > 0 && override[0] != nil {
		p = override[0]
	}
	return Can(p, perm)
}

// Role returns the resolved role, or nil when it is not known.
func (s CurrentSession) Role() *access.Role {
	if s.Profile == nil {
		return nil
	}
	role := s.Profile.Role
	return &role
}

// Disabled tells whether the session belongs to a disabled account and must be signed out.
func (s CurrentSession) Disabled() bool {
	return s.Profile != nil && s.Profile.Disabled
}

// Watcher keeps the profile of one identity up to date.
type Watcher struct {
	ident  identity.Identity
	logger core.Logger

	mu      sync.RWMutex
	profile *profile.Profile
	loading bool

	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe kv.Unsubscribe
	closeOnce   sync.Once
}

// Watch subscribes to the profile of ident for as long as ctx lives (or until Close).
// It returns once the first snapshot is in or timeout elapsed; in the latter case the
// session stays Loading with an unknown role until the store answers.
func Watch(ctx context.Context, store ProfileSubscriber, ident identity.Identity, timeout time.Duration, logger core.Logger) (*Watcher, error) {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	w := &Watcher{
		ident:   ident,
		logger:  logger,
		loading: true,
		ready:   make(chan struct{}),
	}
	unsub, err := store.Subscribe(ctx, ident.UID, w.apply)
	if err != nil {
		return nil, errors.Wrap(err, "watching profile")
	}
	w.unsubscribe = unsub

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.ready:
	case <-timer.C:
		logger.Warn(fmt.Sprintf("profile of %s not resolved after %v", ident.UID, timeout), ident)
	case <-ctx.Done():
	}
	return w, nil
}

func (w *Watcher) apply(snap profile.Snapshot) {
	w.mu.Lock()
	if snap.Err != nil {
		w.profile = nil
	} else if snap.Profile != nil {
		p := snap.Profile.Clone()
		w.profile = &p
	} else {
		w.profile = nil
	}
	w.loading = false
	w.mu.Unlock()

	if snap.Err != nil {
		w.logger.Error(fmt.Sprintf("watching profile of %s: %v", w.ident.UID, snap.Err), snap.Err, w.ident)
	}
	w.readyOnce.Do(func() { close(w.ready) })
}

// Ready is closed once the first snapshot has been applied.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Session returns a copy of the current state; later snapshots do not affect it.
func (w *Watcher) Session() CurrentSession {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sess := CurrentSession{Identity: w.ident, Loading: w.loading}
	if w.profile != nil {
		p := w.profile.Clone()
		sess.Profile = &p
	}
	return sess
}

// Can is a shortcut for Session().Can.
func (w *Watcher) Can(perm access.Permission, override ...*profile.Profile) bool {
	return w.Session().Can(perm, override...)
}

func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})
}

// ResolveRole waits (up to timeout) for the profile of uid and returns its role;
// nil when the profile is absent, unreadable or too slow to arrive.
func ResolveRole(ctx context.Context, store ProfileSubscriber, uid string, timeout time.Duration, logger core.Logger) (*access.Role, error) {
	w, err := Watch(ctx, store, identity.Identity{UID: uid}, timeout, logger)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.Session().Role(), nil
}
