package store

import (
	"testing"

	"github.com/jonboulle/clockwork"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemory(clockwork.NewFakeClockAt(contractNow))
	})
}
