package modbus

import (
	"fmt"
	"sync"
	"time"

	"solar-sim/internal/device"
	"solar-sim/internal/registers"

	"github.com/simonvetter/modbus"
)

// Client talks Modbus TCP to one unit at a time on a simulator (or any
// other server). It satisfies device.BankReader for the selected unit.
type Client struct {
	client  *modbus.ModbusClient
	mu      sync.Mutex
	host    string
	port    int
	unitID  uint8
	timeout time.Duration
}

func NewClient(host string, port int, unitID uint8, timeout time.Duration) *Client {
	return &Client{
		host:    host,
		port:    port,
		unitID:  unitID,
		timeout: timeout,
	}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", c.host, c.port),
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}

	if err := client.Open(); err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", c.host, c.port, err)
	}

	client.SetUnitId(c.unitID)
	c.client = client

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// SetUnit selects the unit (device address) later requests go to.
func (c *Client) SetUnit(id uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unitID = id
	if c.client != nil {
		c.client.SetUnitId(id)
	}
}

func (c *Client) ReadBits(bank registers.Bank, address uint16, quantity uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	var (
		bits []bool
		err  error
	)
	switch bank {
	case registers.Coils:
		bits, err = c.client.ReadCoils(address, quantity)
	case registers.DiscreteInputs:
		bits, err = c.client.ReadDiscreteInputs(address, quantity)
	default:
		return nil, fmt.Errorf("%s is not a bit bank", bank)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %d: %w", bank, address, err)
	}

	return bits, nil
}

func (c *Client) ReadRegisters(bank registers.Bank, address uint16, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("client not connected")
	}

	var kind modbus.RegType
	switch bank {
	case registers.HoldingRegisters:
		kind = modbus.HOLDING_REGISTER
	case registers.InputRegisters:
		kind = modbus.INPUT_REGISTER
	default:
		return nil, fmt.Errorf("%s is not a register bank", bank)
	}

	regs, err := c.client.ReadRegisters(address, quantity, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %d: %w", bank, address, err)
	}

	return regs, nil
}

func (c *Client) WriteCoil(address uint16, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return fmt.Errorf("client not connected")
	}
	if err := c.client.WriteCoil(address, value); err != nil {
		return fmt.Errorf("failed to write coil %d: %w", address, err)
	}
	return nil
}

func (c *Client) WriteRegister(address uint16, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return fmt.Errorf("client not connected")
	}
	if err := c.client.WriteRegister(address, value); err != nil {
		return fmt.Errorf("failed to write holding register %d: %w", address, err)
	}
	return nil
}

func (c *Client) Reconnect() error {
	c.Close()
	return c.Connect()
}

// Read decodes the selected unit through layout. A failed read is retried
// once on a fresh connection.
func (c *Client) Read(layout device.Layout) (device.Values, error) {
	values, err := layout.Decode(c)
	if err == nil {
		return values, nil
	}
	if rerr := c.Reconnect(); rerr != nil {
		return nil, fmt.Errorf("%w (reconnect failed: %v)", err, rerr)
	}
	return layout.Decode(c)
}
