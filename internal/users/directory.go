// Package users keeps the directory of principals recognized by the auth
// oracle and their frozen/banned gates.
package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"simtrade-core/internal/errs"
	"simtrade-core/pkg/db"
)

// Store persists users.
type Store interface {
	EnsureUser(ctx context.Context, id string, now time.Time) (db.User, error)
	SetUserFlags(ctx context.Context, id string, frozen, banned bool) error
	ListUsers(ctx context.Context) ([]db.User, error)
}

// Directory caches every known user in memory. Reads never hit the store.
type Directory struct {
	store Store
	mu    sync.RWMutex
	users map[string]db.User
	now   func() time.Time
	log   *zap.Logger
}

// NewDirectory creates a directory. store may be nil for in-memory use.
func NewDirectory(store Store, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{
		store: store,
		users: make(map[string]db.User),
		now:   time.Now,
		log:   log.With(zap.String("component", "users")),
	}
}

// Load fills the cache from the store.
func (d *Directory) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	all, err := d.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, u := range all {
		d.users[u.ID] = u
	}
	d.mu.Unlock()
	d.log.Info("👥 users loaded", zap.Int("count", len(all)))
	return nil
}

// Ensure returns the user, creating it on first sight.
func (d *Directory) Ensure(ctx context.Context, id string) (db.User, error) {
	if id == "" {
		return db.User{}, errs.New(errs.Unauthenticated, "empty user id")
	}
	if u, ok := d.Get(id); ok {
		return u, nil
	}

	u := db.User{ID: id, CreatedAt: d.now()}
	if d.store != nil {
		stored, err := d.store.EnsureUser(ctx, id, u.CreatedAt)
		if err != nil {
			return db.User{}, errs.Wrap(err, errs.Internal, "ensure user")
		}
		u = stored
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.users[id]; ok {
		return existing, nil
	}
	d.users[id] = u
	d.log.Info("👤 user registered", zap.String("user_id", id))
	return u, nil
}

// Get returns a cached user.
func (d *Directory) Get(id string) (db.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Blocked reports whether the user is frozen or banned. Unknown users are
// not blocked.
func (d *Directory) Blocked(id string) bool {
	u, ok := d.Get(id)
	return ok && u.Blocked()
}

// SetFlags updates the frozen and banned gates.
func (d *Directory) SetFlags(ctx context.Context, id string, frozen, banned bool) (db.User, error) {
	u, ok := d.Get(id)
	if !ok {
		return db.User{}, errs.Newf(errs.NotFound, "user %s not found", id)
	}
	if d.store != nil {
		if err := d.store.SetUserFlags(ctx, id, frozen, banned); err != nil {
			return db.User{}, errs.Wrap(err, errs.Internal, "set user flags")
		}
	}
	u.Frozen, u.Banned = frozen, banned

	d.mu.Lock()
	d.users[id] = u
	d.mu.Unlock()
	d.log.Info("🔒 user gates changed", zap.String("user_id", id), zap.Bool("frozen", frozen), zap.Bool("banned", banned))
	return u, nil
}

// IDs returns every known user id, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.users))
	for id := range d.users {
		out = append(out, id)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}
