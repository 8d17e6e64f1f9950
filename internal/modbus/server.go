package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"solar-sim/internal/registers"

	"github.com/simonvetter/modbus"
)

type ServerConfig struct {
	Host       string
	Port       int
	MaxClients uint
	// Timeout closes idle client connections.
	Timeout time.Duration
}

// Server exposes every register file of a store over Modbus TCP, one unit id
// per device address.
type Server struct {
	cfg    ServerConfig
	server *modbus.ModbusServer
	logger *slog.Logger
}

func NewServer(store *registers.Store, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 10
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout:    cfg.Timeout,
		MaxClients: cfg.MaxClients,
	}, &handler{store: store, logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus server: %w", err)
	}

	return &Server{cfg: cfg, server: server, logger: logger}, nil
}

func (s *Server) Start() error {
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("failed to start modbus server on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.logger.Info("modbus server listening", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

func (s *Server) Stop() error {
	return s.server.Stop()
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("stopping modbus server")
	return s.Stop()
}

// handler maps Modbus requests onto register files. Every request touches a
// single file under that file's lock.
type handler struct {
	store  *registers.Store
	logger *slog.Logger
}

func (h *handler) file(unit uint8) (*registers.File, error) {
	f, ok := h.store.File(unit)
	if !ok {
		h.logger.Debug("request for unknown unit", "unit", unit)
		return nil, modbus.ErrGWTargetFailedToRespond
	}
	return f, nil
}

// reject converts a register access error into the Modbus exception sent back
// to the client. The connection stays open.
func (h *handler) reject(unit uint8, err error) error {
	var accessErr *registers.ProtocolAccessError
	if errors.As(err, &accessErr) {
		h.logger.Warn("rejected register access",
			"unit", unit,
			"bank", accessErr.Bank.String(),
			"address", accessErr.Address,
			"quantity", accessErr.Quantity,
			"reason", accessErr.Reason)
		return modbus.ErrIllegalDataAddress
	}
	h.logger.Error("register access failed", "unit", unit, "err", err)
	return modbus.ErrServerDeviceFailure
}

func (h *handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	f, err := h.file(req.UnitId)
	if err != nil {
		return nil, err
	}
	if req.IsWrite {
		if err := f.WriteBits(registers.Coils, req.Addr, req.Args); err != nil {
			return nil, h.reject(req.UnitId, err)
		}
		return nil, nil
	}
	bits, err := f.ReadBits(registers.Coils, req.Addr, req.Quantity)
	if err != nil {
		return nil, h.reject(req.UnitId, err)
	}
	return bits, nil
}

func (h *handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	f, err := h.file(req.UnitId)
	if err != nil {
		return nil, err
	}
	bits, err := f.ReadBits(registers.DiscreteInputs, req.Addr, req.Quantity)
	if err != nil {
		return nil, h.reject(req.UnitId, err)
	}
	return bits, nil
}

func (h *handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	f, err := h.file(req.UnitId)
	if err != nil {
		return nil, err
	}
	if req.IsWrite {
		if err := f.WriteRegisters(registers.HoldingRegisters, req.Addr, req.Args); err != nil {
			return nil, h.reject(req.UnitId, err)
		}
		return nil, nil
	}
	regs, err := f.ReadRegisters(registers.HoldingRegisters, req.Addr, req.Quantity)
	if err != nil {
		return nil, h.reject(req.UnitId, err)
	}
	return regs, nil
}

func (h *handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	f, err := h.file(req.UnitId)
	if err != nil {
		return nil, err
	}
	regs, err := f.ReadRegisters(registers.InputRegisters, req.Addr, req.Quantity)
	if err != nil {
		return nil, h.reject(req.UnitId, err)
	}
	return regs, nil
}
