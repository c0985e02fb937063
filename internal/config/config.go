package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChatServer holds all configuration for the chat server.
type ChatServer struct {
	// Network
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	WorkerPoolSize int    `yaml:"worker_pool_size"`
	ReadBufferSize int    `yaml:"read_buffer_size"`

	// Timeouts
	AuthTimeout  time.Duration `yaml:"auth_timeout"`  // read deadline during authentication (default: 60s)
	PingInterval time.Duration `yaml:"ping_interval"` // liveness scan period (default: 30s)
	PingTimeout  time.Duration `yaml:"ping_timeout"`  // heartbeat age before eviction (default: 30m)
	WriteTimeout time.Duration `yaml:"write_timeout"` // per-write deadline (default: 5s)

	// Queues
	SendQueueSize     int `yaml:"send_queue_size"`     // per-client outbox capacity (default: 256)
	DispatchQueueSize int `yaml:"dispatch_queue_size"` // dispatch worker inbox capacity (default: 256)

	// Database
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultChatServer returns ChatServer config with sensible defaults.
func DefaultChatServer() ChatServer {
	return ChatServer{
		BindAddress:       "127.0.0.1",
		Port:              54321,
		MaxConnections:    100,
		WorkerPoolSize:    20,
		ReadBufferSize:    8192,
		AuthTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		PingTimeout:       1800 * time.Second,
		WriteTimeout:      5 * time.Second,
		SendQueueSize:     256,
		DispatchQueueSize: 256,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "papo",
			Password: "papo",
			DBName:   "papo",
			SSLMode:  "disable",
		},
	}
}

// LoadChatServer loads chat server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadChatServer(path string) (ChatServer, error) {
	cfg := DefaultChatServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
