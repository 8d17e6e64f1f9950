package registers

import "sync"

// File is the register file of one device. A single RWMutex guards all four
// banks so that one write call is never observed half applied.
type File struct {
	mu      sync.RWMutex
	address uint8

	discrete []bool
	coils    []bool
	holding  []uint16
	input    []uint16
}

// Snapshot is a copy of the command banks (coils and holding registers).
type Snapshot struct {
	Coils   []bool
	Holding []uint16
}

// Coil returns the coil at protocol address addr, false when out of range.
func (s Snapshot) Coil(addr int) bool {
	if addr < 0 || addr >= len(s.Coils) {
		return false
	}
	return s.Coils[addr]
}

// Register returns the holding register at protocol address addr, 0 when out of range.
func (s Snapshot) Register(addr int) uint16 {
	if addr < 0 || addr >= len(s.Holding) {
		return 0
	}
	return s.Holding[addr]
}

// Image is a set of bank contents written starting at FirstAddress.
// Nil slices leave the bank untouched.
type Image struct {
	DiscreteInputs   []bool
	Coils            []bool
	HoldingRegisters []uint16
	InputRegisters   []uint16
}

func NewFile(address uint8, size int) *File {
	if size <= FirstAddress {
		size = DefaultSize
	}
	return &File{
		address:  address,
		discrete: make([]bool, size),
		coils:    make([]bool, size),
		holding:  make([]uint16, size),
		input:    make([]uint16, size),
	}
}

func (f *File) Address() uint8 {
	return f.address
}

func (f *File) Size() int {
	return len(f.coils)
}

func (f *File) bits(bank Bank) []bool {
	if bank == DiscreteInputs {
		return f.discrete
	}
	return f.coils
}

func (f *File) words(bank Bank) []uint16 {
	if bank == InputRegisters {
		return f.input
	}
	return f.holding
}

func (f *File) check(bank Bank, bit bool, addr uint16, quantity int) error {
	if bank.IsBit() != bit {
		kind := "register"
		if bit {
			kind = "bit"
		}
		return &ProtocolAccessError{Unit: f.address, Bank: bank, Address: addr, Quantity: quantity, Reason: "not a " + kind + " bank"}
	}
	if quantity <= 0 {
		return &ProtocolAccessError{Unit: f.address, Bank: bank, Address: addr, Quantity: quantity, Reason: "empty request"}
	}
	if int(addr)+quantity > f.Size() {
		return &ProtocolAccessError{Unit: f.address, Bank: bank, Address: addr, Quantity: quantity, Reason: "out of range"}
	}
	return nil
}

func (f *File) ReadBits(bank Bank, addr uint16, quantity uint16) ([]bool, error) {
	if err := f.check(bank, true, addr, int(quantity)); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]bool, quantity)
	copy(out, f.bits(bank)[addr:])
	return out, nil
}

func (f *File) WriteBits(bank Bank, addr uint16, values []bool) error {
	if err := f.check(bank, true, addr, len(values)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	copy(f.bits(bank)[addr:], values)
	return nil
}

func (f *File) ReadRegisters(bank Bank, addr uint16, quantity uint16) ([]uint16, error) {
	if err := f.check(bank, false, addr, int(quantity)); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]uint16, quantity)
	copy(out, f.words(bank)[addr:])
	return out, nil
}

func (f *File) WriteRegisters(bank Bank, addr uint16, values []uint16) error {
	if err := f.check(bank, false, addr, len(values)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	copy(f.words(bank)[addr:], values)
	return nil
}

// Snapshot copies the command banks under one read lock.
func (f *File) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := Snapshot{
		Coils:   make([]bool, len(f.coils)),
		Holding: make([]uint16, len(f.holding)),
	}
	copy(s.Coils, f.coils)
	copy(s.Holding, f.holding)
	return s
}

// Take is Snapshot for devices with momentary coils: every coil in oneShot is
// cleared in the same critical section it is copied in, so a client write
// is consumed exactly once and a write landing after Take waits for the
// next one.
func (f *File) Take(oneShot ...uint16) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		Coils:   make([]bool, len(f.coils)),
		Holding: make([]uint16, len(f.holding)),
	}
	copy(s.Coils, f.coils)
	copy(s.Holding, f.holding)
	for _, addr := range oneShot {
		if int(addr) < len(f.coils) {
			f.coils[addr] = false
		}
	}
	return s
}

// Apply writes every non-nil part of img under one write lock.
func (f *File) Apply(img Image) error {
	parts := []struct {
		bank Bank
		n    int
	}{
		{DiscreteInputs, len(img.DiscreteInputs)},
		{Coils, len(img.Coils)},
		{HoldingRegisters, len(img.HoldingRegisters)},
		{InputRegisters, len(img.InputRegisters)},
	}
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		if err := f.check(p.bank, p.bank.IsBit(), FirstAddress, p.n); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	copy(f.discrete[FirstAddress:], img.DiscreteInputs)
	copy(f.coils[FirstAddress:], img.Coils)
	copy(f.holding[FirstAddress:], img.HoldingRegisters)
	copy(f.input[FirstAddress:], img.InputRegisters)
	return nil
}
