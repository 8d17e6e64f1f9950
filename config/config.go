package config

import (
	"log/slog"
	"strings"
	"time"

	"solar-sim/internal/topology"

	"github.com/spf13/viper"
)

type Config struct {
	Modbus     ModbusConfig         `mapstructure:"modbus"`
	Simulation SimulationConfig     `mapstructure:"simulation"`
	Unreal     UnrealConfig         `mapstructure:"unreal"`
	API        APIConfig            `mapstructure:"api"`
	MQTT       MQTTConfig           `mapstructure:"mqtt"`
	Database   DatabaseConfig       `mapstructure:"database"`
	Log        LogConfig            `mapstructure:"log"`
	Devices    topology.Description `mapstructure:"devices"`
}

type ModbusConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	MaxClients uint          `mapstructure:"max_clients"`
	Timeout    time.Duration `mapstructure:"timeout"`
	BankSize   int           `mapstructure:"bank_size"`
}

type SimulationConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SimWeather     bool          `mapstructure:"sim_weather"`
	CallbackBuffer int           `mapstructure:"callback_buffer"`
	// Seed fixes the controller randomness; 0 seeds from the clock.
	Seed int64 `mapstructure:"seed"`
}

type UnrealConfig struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SolarPath    string        `mapstructure:"solar_path"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Broker          string        `mapstructure:"broker"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
	ClientID        string        `mapstructure:"client_id"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/solar-sim")
	}

	v.SetDefault("modbus.host", "0.0.0.0")
	v.SetDefault("modbus.port", 502)
	v.SetDefault("modbus.max_clients", 10)
	v.SetDefault("modbus.timeout", "30s")
	v.SetDefault("modbus.bank_size", 100)
	v.SetDefault("simulation.tick_interval", "1s")
	v.SetDefault("simulation.sim_weather", false)
	v.SetDefault("simulation.callback_buffer", 16)
	v.SetDefault("simulation.seed", 0)
	v.SetDefault("unreal.address", "localhost")
	v.SetDefault("unreal.port", 30010)
	v.SetDefault("unreal.timeout", "3s")
	v.SetDefault("unreal.poll_interval", "1s")
	v.SetDefault("unreal.solar_path", "")
	v.SetDefault("api.port", 8045)
	v.SetDefault("api.enabled", true)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "solar-sim")
	v.SetDefault("mqtt.client_id", "solar-sim")
	v.SetDefault("mqtt.publish_interval", "5s")
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.path", "./solar-sim.db")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// No devices listed: run the reference plant, keeping any controller
	// parameters that were given.
	if cfg.Devices.Empty() {
		controller := cfg.Devices.Controller
		cfg.Devices = topology.DefaultDescription()
		cfg.Devices.Controller = controller
	}

	return &cfg, nil
}
