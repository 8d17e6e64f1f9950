package simulator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Callback is work handed to the tick loop by another goroutine.
type Callback func()

// Status is a point-in-time view of the engine.
type Status struct {
	Running      bool      `json:"running"`
	Ticks        uint64    `json:"ticks"`
	LastTick     time.Time `json:"last_tick"`
	LastDuration string    `json:"last_duration"`
	Failures     uint64    `json:"failures"`
	Weather      string    `json:"weather"`
	WeatherState int       `json:"weather_state"`
	Irradiance   float64   `json:"irradiance"`
	GridFreq     float64   `json:"grid_frequency"`
}

type EngineConfig struct {
	TickInterval   time.Duration
	CallbackBuffer int
}

// Engine runs the scheduler on a ticker and drains the callback queue between
// ticks. Device state is only touched from the Run goroutine.
type Engine struct {
	sched     *Scheduler
	cfg       EngineConfig
	callbacks chan Callback
	logger    *slog.Logger

	mu            sync.RWMutex
	status        Status
	visualization map[string]any
}

func NewEngine(sched *Scheduler, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.CallbackBuffer <= 0 {
		cfg.CallbackBuffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sched:     sched,
		cfg:       cfg,
		callbacks: make(chan Callback, cfg.CallbackBuffer),
		logger:    logger,
	}
}

func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// Enqueue queues cb for the tick loop. It never blocks; false means the queue
// was full and cb was dropped.
func (e *Engine) Enqueue(cb Callback) bool {
	select {
	case e.callbacks <- cb:
		return true
	default:
		e.logger.Warn("callback queue full, dropping callback")
		return false
	}
}

// Run ticks the plant until ctx is cancelled. Cancellation is honoured
// between ticks, never during one.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("simulation started",
		"devices", len(e.sched.plant.Devices),
		"interval", e.cfg.TickInterval)

	e.mu.Lock()
	e.status.Running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.status.Running = false
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("simulation stopped", "ticks", e.Status().Ticks)
			return nil
		case cb := <-e.callbacks:
			e.runCallback(cb)
		case <-ticker.C:
			// a tick that was due alongside cancellation is not started
			if ctx.Err() != nil {
				continue
			}
			e.tick()
		}
	}
}

func (e *Engine) runCallback(cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("callback panicked", "panic", r)
		}
	}()
	cb()
}

func (e *Engine) tick() {
	start := time.Now()
	errs := e.sched.Tick()
	elapsed := time.Since(start)

	ctrl := e.sched.plant.Controller

	e.mu.Lock()
	e.status.Ticks++
	e.status.LastTick = start
	e.status.LastDuration = elapsed.String()
	e.status.Failures += uint64(len(errs))
	if ctrl != nil {
		e.status.Weather = ctrl.WeatherState.String()
		e.status.WeatherState = int(ctrl.WeatherState)
		e.status.Irradiance = ctrl.Irradiance
		e.status.GridFreq = ctrl.GridFrequency()
	}
	ticks := e.status.Ticks
	e.mu.Unlock()

	e.logger.Debug("tick complete", "tick", ticks, "duration", elapsed, "failures", len(errs))
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// SetVisualization stores the latest property snapshot from the
// visualization engine.
func (e *Engine) SetVisualization(props map[string]any) {
	e.mu.Lock()
	e.visualization = props
	e.mu.Unlock()
}

func (e *Engine) Visualization() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.visualization))
	for k, v := range e.visualization {
		out[k] = v
	}
	return out
}
