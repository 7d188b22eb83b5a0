package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Chrome    ChromeConfig
	Relay     RelayConfig
	Replay    ReplayConfig
	Backend   BackendConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Driver   string // mysql or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Charset  string
	Path     string // sqlite file, or ":memory:"
}

type JWTConfig struct {
	Secret     string
	ExpireTime int
}

type ChromeConfig struct {
	HeadlessMode bool
	ExecPath     string
	StartURL     string
	Device       string
}

type RelayConfig struct {
	// BackgroundURL is the websocket endpoint agents connect to.
	BackgroundURL string
	Timeout       time.Duration
	// TabID pins the agent's tab identity across restarts.
	TabID string
}

type ReplayConfig struct {
	StepInterval   time.Duration
	StepDelay      time.Duration
	DebounceWindow time.Duration
	BufferCapacity int
	DrainInterval  time.Duration
}

type BackendConfig struct {
	// DefaultAPIBase is used for sessions that have no stored configuration.
	DefaultAPIBase string
	Timeout        time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	// Specs is "<automationId>@<cron>;..."
	Specs string
}

// ScheduledAutomation is one parsed entry of SchedulerConfig.Specs.
type ScheduledAutomation struct {
	AutomationID string
	Spec         string
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Mode:         getEnv("SERVER_MODE", "debug"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnv("DB_PORT", "3306"),
			Username: getEnv("DB_USERNAME", "root"),
			Password: getEnv("DB_PASSWORD", "root"),
			Database: getEnv("DB_NAME", "flow_replayer"),
			Charset:  getEnv("DB_CHARSET", "utf8mb4"),
			Path:     getEnv("DB_PATH", "flow_replayer.db"),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "flow-replayer-secret-key"),
			ExpireTime: getEnvAsInt("JWT_EXPIRE_TIME", 24*3600),
		},
		Chrome: ChromeConfig{
			HeadlessMode: getEnvAsBool("CHROME_HEADLESS", false),
			ExecPath:     getEnv("CHROME_PATH", ""),
			StartURL:     getEnv("CHROME_START_URL", "about:blank"),
			Device:       getEnv("CHROME_DEVICE", ""),
		},
		Relay: RelayConfig{
			BackgroundURL: getEnv("RELAY_BACKGROUND_URL", "ws://127.0.0.1:8080/api/v1/ws/agent"),
			Timeout:       getEnvAsDuration("RELAY_TIMEOUT", 10*time.Second),
			TabID:         getEnv("AGENT_TAB_ID", ""),
		},
		Replay: ReplayConfig{
			StepInterval:   getEnvAsDuration("REPLAY_STEP_INTERVAL", 600*time.Millisecond),
			StepDelay:      getEnvAsDuration("REPLAY_STEP_DELAY", 600*time.Millisecond),
			DebounceWindow: getEnvAsDuration("RECORD_DEBOUNCE_WINDOW", 400*time.Millisecond),
			BufferCapacity: getEnvAsInt("RELAY_BUFFER_CAPACITY", 50),
			DrainInterval:  getEnvAsDuration("RECORD_DRAIN_INTERVAL", 100*time.Millisecond),
		},
		Backend: BackendConfig{
			DefaultAPIBase: getEnv("BACKEND_API_BASE", ""),
			Timeout:        getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled: getEnvAsBool("SCHEDULER_ENABLED", true),
			Specs:   getEnv("SCHEDULED_AUTOMATIONS", ""),
		},
	}

	switch config.Database.Driver {
	case "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", config.Database.Driver)
	}

	return config, nil
}

func (c *Config) GetDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// ScheduledAutomations parses Scheduler.Specs. Malformed entries are reported
// together.
func (c *Config) ScheduledAutomations() ([]ScheduledAutomation, error) {
	var out []ScheduledAutomation
	var bad []string
	for _, entry := range strings.Split(c.Scheduler.Specs, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, spec, ok := strings.Cut(entry, "@")
		id, spec = strings.TrimSpace(id), strings.TrimSpace(spec)
		if !ok || id == "" || spec == "" {
			bad = append(bad, entry)
			continue
		}
		out = append(out, ScheduledAutomation{AutomationID: id, Spec: spec})
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("malformed SCHEDULED_AUTOMATIONS entries: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
