package registry

import (
	"fmt"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/winlogon/minechat/internal/data"
)

// ClientRegistry is the durable mapping from external client identifier to
// Minecraft identity. Bindings never expire and survive gateway restarts.
type ClientRegistry struct {
	store data.Store

	mu      sync.Mutex
	clients *gocache.Cache
	dirty   bool
}

func NewClientRegistry(store data.Store) *ClientRegistry {
	return &ClientRegistry{
		store:   store,
		clients: gocache.New(gocache.NoExpiration, 0),
	}
}

// Lookup returns the binding for the given client identifier, or ErrNotFound.
func (r *ClientRegistry) Lookup(clientUUID string) (data.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, found := r.clients.Get(clientUUID)
	if !found {
		return data.Client{}, ErrNotFound
	}
	return v.(data.Client), nil
}

// Bind records a binding between an external client and a Minecraft identity,
// returning the stored record. Binding an already-known client is an upsert.
func (r *ClientRegistry) Bind(clientUUID, minecraftUUID, minecraftUsername string) data.Client {
	client := data.Client{
		ClientUUID:        clientUUID,
		MinecraftUUID:     minecraftUUID,
		MinecraftUsername: minecraftUsername,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients.Set(clientUUID, client, gocache.NoExpiration)
	r.dirty = true
	return client
}

// Len returns the number of stored bindings.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients.ItemCount()
}

// Persist flushes the current bindings to the store, skipping the write when
// nothing has changed since the last successful flush.
func (r *ClientRegistry) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}

	clients := make([]data.Client, 0, r.clients.ItemCount())
	for _, item := range r.clients.Items() {
		clients = append(clients, item.Object.(data.Client))
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientUUID < clients[j].ClientUUID })

	if err := r.store.SaveClients(clients); err != nil {
		return fmt.Errorf("error persisting clients: %w", err)
	}
	r.dirty = false
	return nil
}

// Restore replaces the registry contents with the stored set.
func (r *ClientRegistry) Restore() error {
	clients, err := r.store.LoadClients()
	if err != nil {
		return fmt.Errorf("error restoring clients: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients.Flush()
	for _, client := range clients {
		r.clients.Set(client.ClientUUID, client, gocache.NoExpiration)
	}
	r.dirty = false
	return nil
}
