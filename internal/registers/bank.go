package registers

import "fmt"

// Bank selects one of the four independently addressed Modbus memory regions.
type Bank int

const (
	DiscreteInputs Bank = iota
	Coils
	HoldingRegisters
	InputRegisters
)

// FirstAddress is the protocol address of the first value a device publishes.
// Address 0 of every bank is left unused.
const FirstAddress = 1

// DefaultSize is the number of cells per bank.
const DefaultSize = 100

func (b Bank) String() string {
	switch b {
	case DiscreteInputs:
		return "discrete inputs"
	case Coils:
		return "coils"
	case HoldingRegisters:
		return "holding registers"
	case InputRegisters:
		return "input registers"
	default:
		return fmt.Sprintf("bank(%d)", int(b))
	}
}

// IsBit reports whether the bank holds booleans.
func (b Bank) IsBit() bool {
	return b == DiscreteInputs || b == Coils
}

// ProtocolAccessError is returned for malformed or out-of-range register requests.
type ProtocolAccessError struct {
	Unit     uint8
	Bank     Bank
	Address  uint16
	Quantity int
	Reason   string
}

func (e *ProtocolAccessError) Error() string {
	return fmt.Sprintf("unit %d %s [%d,+%d): %s", e.Unit, e.Bank, e.Address, e.Quantity, e.Reason)
}
