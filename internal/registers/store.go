package registers

import (
	"fmt"
	"sort"
)

// Store owns one File per device address. Files are added during startup
// only; after that the map is read-only and needs no lock of its own.
type Store struct {
	size  int
	files map[uint8]*File
}

func NewStore(size int) *Store {
	if size <= FirstAddress {
		size = DefaultSize
	}
	return &Store{
		size:  size,
		files: make(map[uint8]*File),
	}
}

func (s *Store) Size() int {
	return s.size
}

func (s *Store) Add(address uint8) (*File, error) {
	if _, exists := s.files[address]; exists {
		return nil, fmt.Errorf("register file for address %d already exists", address)
	}
	f := NewFile(address, s.size)
	s.files[address] = f
	return f, nil
}

func (s *Store) File(address uint8) (*File, bool) {
	f, ok := s.files[address]
	return f, ok
}

func (s *Store) Addresses() []uint8 {
	out := make([]uint8, 0, len(s.files))
	for a := range s.files {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
