package registry

import (
	"testing"

	"github.com/winlogon/minechat/internal/data"
)

// countingStore wraps a Store and records how many times each save method was
// invoked, for asserting dirty-flag behavior.
type countingStore struct {
	data.Store
	linkCodeSaves int
	clientSaves   int
}

func (s *countingStore) SaveLinkCodes(codes []data.LinkCode) error {
	s.linkCodeSaves++
	return s.Store.SaveLinkCodes(codes)
}

func (s *countingStore) SaveClients(clients []data.Client) error {
	s.clientSaves++
	return s.Store.SaveClients(clients)
}

func newTestStore(t *testing.T) *countingStore {
	t.Helper()
	store, err := data.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("error creating test store: %s", err)
	}
	return &countingStore{Store: store}
}
