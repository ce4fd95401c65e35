package keystore

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type fileBackend struct {
	filename string
	lock     sync.RWMutex
}

type fileSnapshot struct {
	AccountKeys   []string     `json:"accountKeys"`
	OwnerKey      string       `json:"ownerKey,omitempty"`
	SeekerDevices []fileSeeker `json:"seekerDevices,omitempty"`
	DeviceName    string       `json:"deviceName,omitempty"`
}

type fileSeeker struct {
	Address    string `json:"address"`
	AccountKey string `json:"accountKey"`
}

// NewFileBackend stores snapshots as JSON in filename. A missing file loads
// as an empty store.
func NewFileBackend(filename string) Backend {
	return &fileBackend{filename: filename}
}

func (fb *fileBackend) Load() (*Snapshot, error) {
	fb.lock.RLock()
	defer fb.lock.RUnlock()

	_, err := os.Stat(fb.filename)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}

	in, err := ioutil.ReadFile(fb.filename)
	if err != nil {
		return nil, err
	}
	if len(in) == 0 {
		return &Snapshot{}, nil
	}

	var fs fileSnapshot
	if err := jsoniter.Unmarshal(in, &fs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", fb.filename)
	}

	return fs.decode()
}

func (fb *fileBackend) Save(s *Snapshot) error {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	out, err := jsoniter.Marshal(encode(s))
	if err != nil {
		return err
	}

	return ioutil.WriteFile(fb.filename, out, 0600)
}

func encode(s *Snapshot) fileSnapshot {
	fs := fileSnapshot{
		AccountKeys: make([]string, 0, len(s.AccountKeys)),
		OwnerKey:    hex.EncodeToString(s.OwnerKey),
		DeviceName:  s.DeviceName,
	}
	for _, k := range s.AccountKeys {
		fs.AccountKeys = append(fs.AccountKeys, hex.EncodeToString(k))
	}
	for _, d := range s.SeekerDevices {
		fs.SeekerDevices = append(fs.SeekerDevices, fileSeeker{
			Address:    d.Address,
			AccountKey: hex.EncodeToString(d.AccountKey),
		})
	}
	return fs
}

func (fs *fileSnapshot) decode() (*Snapshot, error) {
	s := &Snapshot{DeviceName: fs.DeviceName}

	for _, k := range fs.AccountKeys {
		b, err := decodeKey(k)
		if err != nil {
			return nil, err
		}
		s.AccountKeys = append(s.AccountKeys, b)
	}

	if fs.OwnerKey != "" {
		b, err := decodeKey(fs.OwnerKey)
		if err != nil {
			return nil, err
		}
		s.OwnerKey = b
	}

	for _, d := range fs.SeekerDevices {
		b, err := decodeKey(d.AccountKey)
		if err != nil {
			return nil, err
		}
		s.SeekerDevices = append(s.SeekerDevices, SeekerDevice{Address: d.Address, AccountKey: b})
	}

	return s, nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid account key in store")
	}
	if len(b) != KeySize {
		return nil, errors.Errorf("invalid account key length %d in store", len(b))
	}
	return b, nil
}

type memoryBackend struct {
	lock sync.Mutex
	snap *Snapshot
}

// NewMemoryBackend keeps snapshots in memory only.
func NewMemoryBackend() Backend {
	return &memoryBackend{}
}

func (mb *memoryBackend) Load() (*Snapshot, error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	if mb.snap == nil {
		return &Snapshot{}, nil
	}
	c := mb.snap.clone()
	return &c, nil
}

func (mb *memoryBackend) Save(s *Snapshot) error {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	c := s.clone()
	mb.snap = &c
	return nil
}
