package proxy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLookupIdentity(t *testing.T) {
	s := NewStore()
	assert.Equal(t, "example.com", s.Lookup("example.com"))
	assert.Equal(t, 0, s.Len())
}

func TestStoreReplaceAndLookup(t *testing.T) {
	s := NewStore()
	s.Replace(map[string]string{
		"app.example.com": "127.0.0.1",
		"api.example.com": "10.0.0.5",
	})

	assert.Equal(t, "127.0.0.1", s.Lookup("app.example.com"))
	assert.Equal(t, "10.0.0.5", s.Lookup("api.example.com"))
	assert.Equal(t, "other.example.com", s.Lookup("other.example.com"))
	assert.Equal(t, 2, s.Len())
}

func TestStoreReplaceDropsOldEntries(t *testing.T) {
	s := NewStore()
	s.Replace(map[string]string{"a.example.com": "127.0.0.1"})
	s.Replace(map[string]string{"b.example.com": "127.0.0.2"})

	assert.Equal(t, "a.example.com", s.Lookup("a.example.com"), "entry from the previous table must be gone")
	assert.Equal(t, "127.0.0.2", s.Lookup("b.example.com"))
	assert.Equal(t, 1, s.Len())
}

func TestStoreReplaceNilClears(t *testing.T) {
	s := NewStore()
	s.Replace(map[string]string{"a.example.com": "127.0.0.1"})
	s.Replace(nil)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "a.example.com", s.Lookup("a.example.com"))
}

func TestStoreReplaceCopiesInput(t *testing.T) {
	in := map[string]string{"a.example.com": "127.0.0.1"}
	s := NewStore()
	s.Replace(in)

	// mutating the caller's map must not affect the store
	in["a.example.com"] = "10.0.0.9"
	assert.Equal(t, "127.0.0.1", s.Lookup("a.example.com"))
}

func TestStoreSnapshotIsDetached(t *testing.T) {
	s := NewStore()
	s.Replace(map[string]string{"a.example.com": "127.0.0.1"})

	snap := s.Snapshot()
	require.Equal(t, map[string]string{"a.example.com": "127.0.0.1"}, snap)

	snap["a.example.com"] = "changed"
	assert.Equal(t, "127.0.0.1", s.Lookup("a.example.com"))
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Replace(map[string]string{
					fmt.Sprintf("host%d.example.com", i): "127.0.0.1",
				})
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Lookup(fmt.Sprintf("host%d.example.com", i))
				_ = s.Len()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}
