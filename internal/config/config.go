package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	State     StateConfig     `yaml:"state"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Feed      FeedConfig      `yaml:"feed"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Audit     AuditConfig     `yaml:"audit"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Account   AccountConfig   `yaml:"account"`
	Programs  ProgramsConfig  `yaml:"programs"`
	Bindings  []BindingConfig `yaml:"bindings"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type SandboxConfig struct {
	WallClock time.Duration `yaml:"wall_clock"`
	Steps     int64         `yaml:"steps"`
}

type SchedulerConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	SuspendThreshold int           `yaml:"suspend_threshold"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PoolsPath        string        `yaml:"pools_path"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Symbols        []string      `yaml:"symbols"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type AuditConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	Schema       string `yaml:"schema"`
	QueueSize    int    `yaml:"queue_size"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// AccountConfig seeds the static account state used by the paper dispatcher.
// A live deployment replaces this with an exchange-backed account source.
type AccountConfig struct {
	Name             string  `yaml:"name"`
	AvailableBalance float64 `yaml:"available_balance"`
	TotalEquity      float64 `yaml:"total_equity"`
	MaxLeverage      int     `yaml:"max_leverage"`
	DefaultLeverage  int     `yaml:"default_leverage"`
}

type ProgramsConfig struct {
	Dir string `yaml:"dir"`
}

// BindingConfig attaches one program file to one (account, strategy) pair.
type BindingConfig struct {
	Account  string        `yaml:"account"`
	Strategy string        `yaml:"strategy"`
	Program  string        `yaml:"program"`
	Pools    []string      `yaml:"pools"`
	Interval time.Duration `yaml:"interval"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/program-trader.db"
	}
	if cfg.Sandbox.WallClock == 0 {
		cfg.Sandbox.WallClock = 2 * time.Second
	}
	if cfg.Sandbox.Steps == 0 {
		cfg.Sandbox.Steps = 100_000
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 64
	}
	if cfg.Scheduler.SuspendThreshold == 0 {
		cfg.Scheduler.SuspendThreshold = 5
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 5 * time.Second
	}
	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Audit.Schema == "" {
		cfg.Audit.Schema = "public"
	}
	if cfg.Account.Name == "" {
		cfg.Account.Name = "paper"
	}
	if cfg.Account.MaxLeverage == 0 {
		cfg.Account.MaxLeverage = 50
	}
	if cfg.Account.DefaultLeverage == 0 {
		cfg.Account.DefaultLeverage = 1
	}
	if cfg.Programs.Dir == "" {
		cfg.Programs.Dir = "programs"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Bindings) == 0 {
		return errors.New("at least one binding is required")
	}
	for i, b := range cfg.Bindings {
		if b.Account == "" {
			return fmt.Errorf("bindings[%d].account is required", i)
		}
		if b.Strategy == "" {
			return fmt.Errorf("bindings[%d].strategy is required", i)
		}
		if b.Program == "" {
			return fmt.Errorf("bindings[%d].program is required", i)
		}
		if len(b.Pools) == 0 && b.Interval == 0 {
			return fmt.Errorf("bindings[%d] needs a pool or an interval", i)
		}
	}
	if cfg.Audit.Enabled && cfg.Audit.DSN == "" {
		return errors.New("audit.dsn is required when audit.enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram.enabled")
	}
	return nil
}
