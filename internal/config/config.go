package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	FileRoot     string `yaml:"file_root"`
	LogLevel     string `yaml:"log_level"`
	QUICAddr     string `yaml:"quic_addr"`      // optional QUIC endpoint, e.g. ":8443"
	QUICCertFile string `yaml:"quic_cert_file"` // empty: self-signed
	QUICKeyFile  string `yaml:"quic_key_file"`
	WSAddr       string `yaml:"ws_addr"`      // optional WebSocket endpoint, e.g. ":8081"
	MetricsAddr  string `yaml:"metrics_addr"` // optional Prometheus endpoint, e.g. ":9090"
	WatchRoot    bool   `yaml:"watch_root"`   // keep the files-in-root gauge current
}

// ClientConfig holds configuration for the command-line client.
type ClientConfig struct {
	Addr     string
	LogLevel string
	Timeout  time.Duration // dial timeout
}

const (
	DefaultPort     = 8080
	DefaultFileRoot = "./uploads"
)

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:      DefaultPort,
		FileRoot:  DefaultFileRoot,
		LogLevel:  "info",
		WatchRoot: true,
	}
}

// ListenAddr is the TCP address derived from Port.
func (c ServerConfig) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Validate rejects configurations the server cannot start with.
func (c ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.FileRoot) == "" {
		return errors.New("file root must not be empty")
	}
	if (c.QUICCertFile == "") != (c.QUICKeyFile == "") {
		return errors.New("quic cert and key files must be set together")
	}
	return nil
}

// ParseServerConfig parses server configuration.
// Precedence, lowest first: defaults, YAML file (-config or FILEGATE_CONFIG),
// environment variables, flags.
func ParseServerConfig() (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	path := os.Getenv("FILEGATE_CONFIG")
	if p := configFlagValue(args); p != "" {
		path = p
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// Read from environment next
	if port := os.Getenv("FILEGATE_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("FILEGATE_PORT: %w", err)
		}
		cfg.Port = n
	}
	if root := os.Getenv("FILEGATE_FILE_ROOT"); root != "" {
		cfg.FileRoot = root
	}
	if logLevel := os.Getenv("FILEGATE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if addr := os.Getenv("FILEGATE_QUIC_ADDR"); addr != "" {
		cfg.QUICAddr = addr
	}
	if f := os.Getenv("FILEGATE_QUIC_CERT_FILE"); f != "" {
		cfg.QUICCertFile = f
	}
	if f := os.Getenv("FILEGATE_QUIC_KEY_FILE"); f != "" {
		cfg.QUICKeyFile = f
	}
	if addr := os.Getenv("FILEGATE_WS_ADDR"); addr != "" {
		cfg.WSAddr = addr
	}
	if addr := os.Getenv("FILEGATE_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if v := os.Getenv("FILEGATE_WATCH_ROOT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("FILEGATE_WATCH_ROOT: %w", err)
		}
		cfg.WatchRoot = b
	}

	// Flags override environment
	var ignored string
	fs.StringVar(&ignored, "config", path, "YAML config file")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP listen port")
	fs.StringVar(&cfg.FileRoot, "root", cfg.FileRoot, "directory served to clients")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.QUICAddr, "quic-addr", cfg.QUICAddr, "optional QUIC listen address")
	fs.StringVar(&cfg.QUICCertFile, "quic-cert", cfg.QUICCertFile, "QUIC TLS certificate (PEM)")
	fs.StringVar(&cfg.QUICKeyFile, "quic-key", cfg.QUICKeyFile, "QUIC TLS key (PEM)")
	fs.StringVar(&cfg.WSAddr, "ws-addr", cfg.WSAddr, "optional WebSocket listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "optional Prometheus metrics address")
	fs.BoolVar(&cfg.WatchRoot, "watch-root", cfg.WatchRoot, "watch the file root for inventory metrics")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// ParseClientConfig parses client configuration from flags and environment variables.
// Flags take precedence over environment variables. Remaining positional
// arguments are returned for the subcommand.
func ParseClientConfig(args []string) (ClientConfig, []string, error) {
	fs := flag.NewFlagSet("filegate", flag.ContinueOnError)
	return parseClientConfigWithFlagSet(fs, args)
}

func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, []string, error) {
	cfg := ClientConfig{
		Addr:     "localhost:8080",
		LogLevel: "info",
		Timeout:  5 * time.Second,
	}

	if addr := os.Getenv("FILEGATE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("FILEGATE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "dial timeout")
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

func loadYAML(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// configFlagValue finds -config/--config before the flag set is parsed, so the
// file can sit below environment and flags in precedence.
func configFlagValue(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		for _, name := range []string{"-config", "--config"} {
			if arg == name && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(arg, name+"=") {
				return strings.TrimPrefix(arg, name+"=")
			}
		}
	}
	return ""
}
