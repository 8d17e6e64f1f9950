package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"solar-sim/config"
	"solar-sim/internal/api"
	"solar-sim/internal/device"
	"solar-sim/internal/modbus"
	"solar-sim/internal/mqtt"
	"solar-sim/internal/registers"
	"solar-sim/internal/simulator"
	"solar-sim/internal/storage"
	"solar-sim/internal/topology"
	"solar-sim/internal/unreal"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "solar-sim",
		Short: "Solar plant simulator",
		Long:  "Simulates the electrical equipment of a solar plant and serves its state over Modbus TCP",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(topologyCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(writeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func buildPlant(cfg *config.Config, simWeather bool) (*topology.Plant, error) {
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	plant, err := topology.Build(cfg.Devices, topology.Options{
		SimWeather: simWeather,
		Rand:       rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("plant built", "devices", len(plant.Devices), "seed", seed)
	return plant, nil
}

func serveCmd() *cobra.Command {
	var simWeather bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator",
		Long:  "Build the plant, then run the Modbus server, the tick loop and the visualization poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()

			plant, err := buildPlant(cfg, simWeather || cfg.Simulation.SimWeather)
			if err != nil {
				return err
			}

			sched, err := simulator.NewScheduler(plant, cfg.Modbus.BankSize, logger)
			if err != nil {
				return err
			}
			engine := simulator.NewEngine(sched, simulator.EngineConfig{
				TickInterval:   cfg.Simulation.TickInterval,
				CallbackBuffer: cfg.Simulation.CallbackBuffer,
			}, logger)

			var db *storage.Database
			if cfg.Database.Enabled {
				db, err = storage.NewDatabase(cfg.Database.Path)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer db.Close()
				if err := db.SyncPlant(plant); err != nil {
					logger.Error("failed to sync device metadata", "err", err)
				}
				logger.Info("database opened", "path", cfg.Database.Path)
			}

			server, err := modbus.NewServer(sched.Store(), modbus.ServerConfig{
				Host:       cfg.Modbus.Host,
				Port:       cfg.Modbus.Port,
				MaxClients: cfg.Modbus.MaxClients,
				Timeout:    cfg.Modbus.Timeout,
			}, logger)
			if err != nil {
				return err
			}
			if err := server.Start(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			run := func(fn func()) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fn()
				}()
			}

			poller := unreal.NewPoller(
				unreal.NewClient(cfg.Unreal.Address, cfg.Unreal.Port, cfg.Unreal.Timeout),
				cfg.Unreal.SolarPath,
				cfg.Unreal.PollInterval,
				func(props map[string]any) {
					engine.Enqueue(func() {
						logger.Debug("visualization snapshot", "properties", len(props))
						engine.SetVisualization(props)
					})
				},
				logger,
			)
			run(func() { poller.Run(ctx) })

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
			}, logger)
			if err != nil {
				logger.Warn("mqtt connection failed", "err", err)
			} else {
				defer publisher.Close()
				run(func() { publisher.Run(ctx, cfg.MQTT.PublishInterval, sched.AllReadings) })
			}

			var apiServer *api.Server
			if cfg.API.Enabled {
				apiServer = api.NewServer(api.ServerConfig{
					Port:     cfg.API.Port,
					Engine:   engine,
					Database: db,
					Logger:   logger,
				})
				go func() {
					if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("API server error", "err", err)
					}
				}()
			}

			logger.Info("solar simulator started", "devices", len(plant.Devices), "modbus_port", cfg.Modbus.Port)

			// the tick loop owns this goroutine and returns at a tick boundary
			if err := engine.Run(ctx); err != nil {
				logger.Error("simulation stopped with error", "err", err)
			}
			logger.Info("shutting down")

			if apiServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := apiServer.Stop(shutdownCtx); err != nil {
					logger.Warn("API shutdown failed", "err", err)
				}
			}
			if err := server.Stop(); err != nil {
				logger.Warn("modbus server shutdown failed", "err", err)
			}
			wg.Wait()

			return nil
		},
	}

	cmd.Flags().BoolVar(&simWeather, "sim", false, "enable the weather simulation")
	return cmd
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the resolved plant",
		Long:  "Build the plant from the configuration and print each device with its address, connections and the update order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			plant, err := buildPlant(cfg, cfg.Simulation.SimWeather)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s %-16s %-20s %s\n", "UNIT", "GROUP", "NAME", "CONNECTIONS")
			for _, d := range plant.Devices {
				meta := d.Meta()
				fmt.Fprintf(out, "%-5d %-16s %-20s %s\n", meta.Address, meta.Group, meta.Name, connections(meta))
			}

			order := make([]string, 0, len(plant.Order))
			for _, d := range plant.Order {
				order = append(order, d.Meta().Name)
			}
			fmt.Fprintf(out, "\nUpdate order: %s\n", strings.Join(order, " -> "))
			return nil
		},
	}
}

func connections(meta *device.Base) string {
	var parts []string
	for g, conns := range meta.Connections {
		if len(conns) == 0 {
			continue
		}
		names := make([]string, len(conns))
		for i, c := range conns {
			names[i] = c.Meta().Name
		}
		parts = append(parts, fmt.Sprintf("%s=[%s]", g, strings.Join(names, ",")))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func readCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "read <device>",
		Short: "Read one device from a running simulator",
		Long:  "Connect to a running simulator over Modbus TCP and print the decoded registers of one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			plant, err := buildPlant(cfg, cfg.Simulation.SimWeather)
			if err != nil {
				return err
			}

			d, ok := plant.Device(args[0])
			if !ok {
				return fmt.Errorf("unknown device %q", args[0])
			}
			meta := d.Meta()
			layout, ok := device.LayoutOf(meta.Group)
			if !ok {
				return fmt.Errorf("no register layout for %s", meta.Group)
			}

			client := modbus.NewClient(host, cfg.Modbus.Port, meta.Address, cfg.Modbus.Timeout)
			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()

			values, err := client.Read(layout)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", meta.Name, err)
			}

			output, _ := json.MarshalIndent(map[string]any{
				"device":  meta.Name,
				"group":   meta.Group,
				"address": meta.Address,
				"values":  values,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "simulator host")
	return cmd
}

func writeCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "write <device> <coil|register> <address> <value>",
		Short: "Write one command to a running simulator",
		Long:  "Write a coil (0 or 1) or a signed holding register of one device over Modbus TCP. The simulator applies it on its next tick",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			plant, err := buildPlant(cfg, cfg.Simulation.SimWeather)
			if err != nil {
				return err
			}

			d, ok := plant.Device(args[0])
			if !ok {
				return fmt.Errorf("unknown device %q", args[0])
			}
			address, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[2], err)
			}
			value, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[3], err)
			}

			meta := d.Meta()
			client := modbus.NewClient(host, cfg.Modbus.Port, meta.Address, cfg.Modbus.Timeout)
			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()

			switch args[1] {
			case "coil":
				err = client.WriteCoil(uint16(address), value != 0)
			case "register":
				err = client.WriteRegister(uint16(address), registers.Int(float64(value)))
			default:
				return fmt.Errorf("unknown bank %q, want coil or register", args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d = %d\n", meta.Name, args[1], address, value)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "simulator host")
	return cmd
}
