// Package config loads controller and agent settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metorial/agentsched/internal/agentclient"
)

// Config holds the controller configuration.
type Config struct {
	// Server settings
	GRPCPort int
	HTTPPort int

	DBPath string

	// Consul; empty disables registration and discovery.
	ConsulAddr string
	AdvertiseIP string

	// Agent protocol budgets
	Timeouts agentclient.Timeouts

	// Maintenance
	RefreshInterval   time.Duration
	DiscoveryInterval time.Duration

	SchedulerEnabled bool
	ScheduleLocation *time.Location

	// Optional YAML file of script templates seeded at start.
	ScriptLibrary string
}

// Load loads the controller configuration from environment variables. It
// fails when a port is not a number in 1-65535.
func Load() (*Config, error) {
	grpcPort, err := getEnvPort("PORT", 9090)
	if err != nil {
		return nil, err
	}
	httpPort, err := getEnvPort("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	defaults := agentclient.DefaultTimeouts()
	return &Config{
		GRPCPort:    grpcPort,
		HTTPPort:    httpPort,
		DBPath:      getEnv("DB_PATH", "/data/agentsched.db"),
		ConsulAddr:  getEnv("CONSUL_HTTP_ADDR", ""),
		AdvertiseIP: getEnv("NOMAD_IP_grpc", ""),
		Timeouts: agentclient.Timeouts{
			Ping:        getEnvDuration("PING_TIMEOUT", defaults.Ping),
			Info:        getEnvDuration("INFO_TIMEOUT", defaults.Info),
			Execute:     getEnvDuration("EXECUTE_TIMEOUT", defaults.Execute),
			ListScripts: getEnvDuration("LIST_SCRIPTS_TIMEOUT", defaults.ListScripts),
		},
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", 30*time.Second),
		DiscoveryInterval: getEnvDuration("DISCOVERY_INTERVAL", time.Minute),
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		ScheduleLocation:  getEnvLocation("SCHEDULE_TZ", time.Local),
		ScriptLibrary:     getEnv("SCRIPT_LIBRARY", ""),
	}, nil
}

// AgentConfig holds the agent daemon configuration.
type AgentConfig struct {
	Port        int
	ScriptsDir  string
	ExecTimeout time.Duration

	ConsulAddr string
	// AdvertiseAddr is the address registered in Consul; defaults to the
	// first non-loopback IPv4 address.
	AdvertiseAddr string
}

// LoadAgent loads the agent configuration from environment variables.
func LoadAgent() *AgentConfig {
	return &AgentConfig{
		Port:          getEnvInt("AGENT_PORT", 5000),
		ScriptsDir:    getEnv("SCRIPTS_DIR", "scripts"),
		ExecTimeout:   getEnvDuration("AGENT_EXEC_TIMEOUT", 300*time.Second),
		ConsulAddr:    getEnv("CONSUL_HTTP_ADDR", ""),
		AdvertiseAddr: getEnv("AGENT_ADVERTISE_ADDR", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvPort(key string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal, nil
	}
	port, err := strconv.Atoi(val)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid %s %q: must be a port number between 1 and 65535", key, val)
	}
	return port, nil
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go duration strings ("90s") or plain milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func getEnvLocation(key string, defaultVal *time.Location) *time.Location {
	if val := os.Getenv(key); val != "" {
		if loc, err := time.LoadLocation(val); err == nil {
			return loc
		}
	}
	return defaultVal
}
