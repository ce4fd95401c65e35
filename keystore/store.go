// Package keystore holds the durable state of a Fast Pair provider: the
// bounded set of account keys, the seekers that used them and the device name.
package keystore

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
)

const (
	// KeySize is the length of an account key.
	KeySize = 16
	// DefaultCapacity is the number of account keys a provider keeps.
	DefaultCapacity = 8
)

// SeekerDevice associates a peer address with the account key it wrote.
type SeekerDevice struct {
	Address    string
	AccountKey []byte
}

// Snapshot is the persisted form of a Store.
type Snapshot struct {
	AccountKeys   [][]byte
	OwnerKey      []byte
	SeekerDevices []SeekerDevice
	DeviceName    string
}

// Backend persists snapshots.
type Backend interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// Store is safe for concurrent use. Readers get copies, so a reader never
// observes a partially applied mutation.
type Store struct {
	lock     sync.RWMutex
	capacity int
	backend  Backend
	state    Snapshot
}

// New loads a store from backend. A capacity <= 0 selects DefaultCapacity.
func New(backend Backend, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}

	snap, err := backend.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load keystore")
	}

	s := &Store{capacity: capacity, backend: backend}
	if snap != nil {
		s.state = snap.clone()
	}
	s.state.AccountKeys = trim(s.state.AccountKeys, capacity)
	if len(s.state.SeekerDevices) > capacity {
		s.state.SeekerDevices = s.state.SeekerDevices[len(s.state.SeekerDevices)-capacity:]
	}

	return s, nil
}

// Add stores an account key. Re-adding a known key moves it to the most
// recent slot; otherwise the oldest key is evicted once the store is full.
// The first key ever added becomes the owner key.
func (s *Store) Add(key []byte) error {
	if len(key) != KeySize {
		return errors.Errorf("account key must be %d bytes, got %d", KeySize, len(key))
	}

	return s.mutate(func(st *Snapshot) {
		st.AccountKeys = appendKey(st.AccountKeys, key, s.capacity)
		if st.OwnerKey == nil {
			st.OwnerKey = copyBytes(key)
		}
	})
}

// AddSeekerDevice records that the device at addr paired using key. The key
// is added to the account key set as well.
func (s *Store) AddSeekerDevice(addr string, key []byte) error {
	if len(key) != KeySize {
		return errors.Errorf("account key must be %d bytes, got %d", KeySize, len(key))
	}

	return s.mutate(func(st *Snapshot) {
		st.AccountKeys = appendKey(st.AccountKeys, key, s.capacity)
		if st.OwnerKey == nil {
			st.OwnerKey = copyBytes(key)
		}

		devs := make([]SeekerDevice, 0, len(st.SeekerDevices)+1)
		for _, d := range st.SeekerDevices {
			if d.Address != addr {
				devs = append(devs, d)
			}
		}
		devs = append(devs, SeekerDevice{Address: addr, AccountKey: copyBytes(key)})
		if len(devs) > s.capacity {
			devs = devs[len(devs)-s.capacity:]
		}
		st.SeekerDevices = devs
	})
}

// Keys returns the account keys, oldest first.
func (s *Store) Keys() [][]byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyKeys(s.state.AccountKeys)
}

// Len returns the number of stored account keys.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.state.AccountKeys)
}

func (s *Store) Contains(key []byte) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return indexOf(s.state.AccountKeys, key) >= 0
}

// OwnerKey returns the first account key ever added, or nil.
func (s *Store) OwnerKey() []byte {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return copyBytes(s.state.OwnerKey)
}

func (s *Store) SeekerDevices() []SeekerDevice {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state.clone().SeekerDevices
}

// KeyFor returns the account key recorded for addr.
func (s *Store) KeyFor(addr string) ([]byte, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, d := range s.state.SeekerDevices {
		if d.Address == addr {
			return copyBytes(d.AccountKey), true
		}
	}
	return nil, false
}

func (s *Store) DeviceName() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state.DeviceName
}

func (s *Store) SetDeviceName(name string) error {
	return s.mutate(func(st *Snapshot) {
		st.DeviceName = name
	})
}

// Clear removes every key, device record and the owner key.
func (s *Store) Clear() error {
	return s.mutate(func(st *Snapshot) {
		*st = Snapshot{DeviceName: st.DeviceName}
	})
}

// mutate applies f to a copy of the state, persists it, and only then
// publishes it.
func (s *Store) mutate(f func(*Snapshot)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	next := s.state.clone()
	f(&next)

	if err := s.backend.Save(&next); err != nil {
		return errors.Wrap(err, "persist keystore")
	}

	s.state = next
	return nil
}

func appendKey(keys [][]byte, key []byte, capacity int) [][]byte {
	if i := indexOf(keys, key); i >= 0 {
		keys = append(keys[:i], keys[i+1:]...)
	}
	keys = append(keys, copyBytes(key))
	return trim(keys, capacity)
}

func trim(keys [][]byte, capacity int) [][]byte {
	if len(keys) > capacity {
		return keys[len(keys)-capacity:]
	}
	return keys
}

func indexOf(keys [][]byte, key []byte) int {
	for i, k := range keys {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		AccountKeys: copyKeys(s.AccountKeys),
		OwnerKey:    copyBytes(s.OwnerKey),
		DeviceName:  s.DeviceName,
	}
	if s.SeekerDevices != nil {
		out.SeekerDevices = make([]SeekerDevice, len(s.SeekerDevices))
		for i, d := range s.SeekerDevices {
			out.SeekerDevices[i] = SeekerDevice{Address: d.Address, AccountKey: copyBytes(d.AccountKey)}
		}
	}
	return out
}

func copyKeys(in [][]byte) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, k := range in {
		out[i] = copyBytes(k)
	}
	return out
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
