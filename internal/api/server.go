package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"solar-sim/internal/device"
	"solar-sim/internal/simulator"
	"solar-sim/internal/storage"

	"github.com/gin-gonic/gin"
)

type Server struct {
	router *gin.Engine
	server *http.Server
	engine *simulator.Engine
	db     *storage.Database
	port   int
	logger *slog.Logger
}

type ServerConfig struct {
	Port   int
	Engine *simulator.Engine
	// Database is optional; metadata routes answer 503 without it.
	Database *storage.Database
	Logger   *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: router,
		engine: cfg.Engine,
		db:     cfg.Database,
		port:   cfg.Port,
		logger: logger,
	}
	router.Use(s.requestLogger())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.statusHandler)
		api.GET("/weather", s.weatherHandler)
		api.GET("/unreal", s.visualizationHandler)
		api.GET("/topology", s.topologyHandler)
		api.GET("/devices", s.devicesHandler)
		api.GET("/devices/:name", s.deviceHandler)

		api.GET("/metadata/devices", s.metadataDevicesHandler)
		api.GET("/metadata/devices/:name", s.metadataDeviceHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.Info("API server starting", "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	st := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"running":   st.Running,
		"ticks":     st.Ticks,
		"timestamp": time.Now(),
	})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) weatherHandler(c *gin.Context) {
	st := s.engine.Status()
	if st.Ticks == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":          st.WeatherState,
		"name":           st.Weather,
		"irradiance":     st.Irradiance,
		"grid_frequency": st.GridFreq,
	})
}

func (s *Server) visualizationHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Visualization())
}

type deviceInfo struct {
	Name        string              `json:"name"`
	Group       device.Group        `json:"group"`
	Address     uint8               `json:"address"`
	UID         string              `json:"uid"`
	Connections map[string][]string `json:"connections,omitempty"`
}

func describe(d device.Device) deviceInfo {
	meta := d.Meta()
	info := deviceInfo{
		Name:    meta.Name,
		Group:   meta.Group,
		Address: meta.Address,
		UID:     meta.UID().String(),
	}
	for g, conns := range meta.Connections {
		if len(conns) == 0 {
			continue
		}
		if info.Connections == nil {
			info.Connections = make(map[string][]string)
		}
		for _, c := range conns {
			info.Connections[string(g)] = append(info.Connections[string(g)], c.Meta().Name)
		}
	}
	return info
}

func (s *Server) devicesHandler(c *gin.Context) {
	plant := s.engine.Scheduler().Plant()
	out := make([]deviceInfo, 0, len(plant.Devices))
	for _, d := range plant.Devices {
		out = append(out, describe(d))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) topologyHandler(c *gin.Context) {
	plant := s.engine.Scheduler().Plant()
	order := make([]string, 0, len(plant.Order))
	for _, d := range plant.Order {
		order = append(order, d.Meta().Name)
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) deviceHandler(c *gin.Context) {
	name := c.Param("name")
	sched := s.engine.Scheduler()

	d, ok := sched.Plant().Device(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown device %q", name)})
		return
	}
	values, err := sched.Readings(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device": describe(d),
		"values": values,
	})
}

func (s *Server) metadataDevicesHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database disabled"})
		return
	}
	devices, err := s.db.ListDevices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (s *Server) metadataDeviceHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database disabled"})
		return
	}
	dev, err := s.db.GetDevice(c.Param("name"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dev)
}
