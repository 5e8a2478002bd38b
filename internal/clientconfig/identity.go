package clientconfig

import (
	"errors"
	"sync"
)

// ErrNoIdentity is returned when no user name is configured.
var ErrNoIdentity = errors.New("no user identity configured")

// Identity supplies the current user for lock mutations. It is safe for
// concurrent use and can be reloaded when the config file changes.
type Identity struct {
	mu     sync.RWMutex
	name   string
	lookup func() string
}

// NewIdentity creates an Identity backed by GetUserName.
func NewIdentity() *Identity {
	id := &Identity{lookup: GetUserName}
	id.Reload()
	return id
}

// StaticIdentity returns an Identity fixed to name. An empty name behaves as unset.
func StaticIdentity(name string) *Identity {
	return &Identity{name: name, lookup: func() string { return name }}
}

// CurrentUser returns the user name or ErrNoIdentity.
func (i *Identity) CurrentUser() (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.name == "" {
		return "", ErrNoIdentity
	}
	return i.name, nil
}

// Reload re-reads the identity source and reports whether it changed.
func (i *Identity) Reload() bool {
	name := i.lookup()
	i.mu.Lock()
	defer i.mu.Unlock()
	changed := name != i.name
	i.name = name
	return changed
}
