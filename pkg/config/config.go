package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/betbot/iqblitz/pkg/logger"
	"github.com/betbot/iqblitz/pkg/sdk/iqoption"
	"github.com/betbot/iqblitz/pkg/sdk/stream"
)

// AccountConfig holds credentials. SSID, when set, skips the HTTP login.
type AccountConfig struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"password"`
	SSID     string `yaml:"ssid" json:"ssid"`
}

// ConnectionConfig describes the endpoints and socket tuning.
type ConnectionConfig struct {
	WSURL            string        `yaml:"ws_url" json:"ws_url"`
	LoginURL         string        `yaml:"login_url" json:"login_url"`
	Proxy            string        `yaml:"proxy" json:"proxy"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval" json:"ping_interval"`
	SendRate         float64       `yaml:"send_rate" json:"send_rate"` // frames per second, 0 = unlimited
	SendBurst        int           `yaml:"send_burst" json:"send_burst"`
	LoginTimeout     time.Duration `yaml:"login_timeout" json:"login_timeout"`
	LoginRetries     int           `yaml:"login_retries" json:"login_retries"`
}

// TimeoutConfig bounds every protocol wait.
type TimeoutConfig struct {
	Auth            time.Duration `yaml:"auth" json:"auth"`
	Request         time.Duration `yaml:"request" json:"request"`
	OpenAck         time.Duration `yaml:"open_ack" json:"open_ack"`
	SettlementGrace time.Duration `yaml:"settlement_grace" json:"settlement_grace"`
}

// TradeConfig holds the CLI trade defaults.
type TradeConfig struct {
	ActiveID      int64           `yaml:"active_id" json:"active_id"`
	Interval      int             `yaml:"interval" json:"interval"` // candle size in seconds
	Duration      int             `yaml:"duration" json:"duration"` // option duration in seconds
	Amount        decimal.Decimal `yaml:"amount" json:"amount"`
	ProfitPercent int             `yaml:"profit_percent" json:"profit_percent"`
	BalanceType   string          `yaml:"balance_type" json:"balance_type"` // practice, real or tournament
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
	JSON       bool   `yaml:"json" json:"json"`
}

// Config is the application configuration.
type Config struct {
	Account    AccountConfig    `yaml:"account" json:"account"`
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
	Timeouts   TimeoutConfig    `yaml:"timeouts" json:"timeouts"`
	Trade      TradeConfig      `yaml:"trade" json:"trade"`
	Log        LogConfig        `yaml:"log" json:"log"`
	// MetricsAddr enables the expvar/pprof listener when non-empty.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// JournalPath enables the sqlite settlement journal when non-empty.
	JournalPath string `yaml:"journal_path" json:"journal_path"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			WSURL:            iqoption.DefaultWSURL,
			LoginURL:         iqoption.DefaultLoginURL,
			HandshakeTimeout: 30 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     20 * time.Second,
			SendRate:         20,
			SendBurst:        5,
			LoginTimeout:     10 * time.Second,
			LoginRetries:     3,
		},
		Timeouts: TimeoutConfig{
			Auth:            8 * time.Second,
			Request:         15 * time.Second,
			OpenAck:         8 * time.Second,
			SettlementGrace: 15 * time.Second,
		},
		Trade: TradeConfig{
			ActiveID:      76,
			Interval:      60,
			Duration:      30,
			Amount:        decimal.NewFromInt(1),
			ProfitPercent: 85,
			BalanceType:   "practice",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile applies, in order: defaults, the config file (when path is
// non-empty) and IQ_* environment overrides. JSON files are read by the YAML
// decoder, so durations are Go duration strings in both formats.
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", filePath, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Account.Email = getEnv("IQ_EMAIL", cfg.Account.Email)
	cfg.Account.Password = getEnv("IQ_PASSWORD", cfg.Account.Password)
	cfg.Account.SSID = getEnv("IQ_SSID", cfg.Account.SSID)
	cfg.Connection.WSURL = getEnv("IQ_WS_URL", cfg.Connection.WSURL)
	cfg.Connection.LoginURL = getEnv("IQ_LOGIN_URL", cfg.Connection.LoginURL)
	cfg.Connection.Proxy = getEnv("IQ_PROXY", cfg.Connection.Proxy)
	cfg.Log.Level = getEnv("IQ_LOG_LEVEL", cfg.Log.Level)
	cfg.MetricsAddr = getEnv("IQ_METRICS_ADDR", cfg.MetricsAddr)
	cfg.JournalPath = getEnv("IQ_JOURNAL_PATH", cfg.JournalPath)

	var err error
	if cfg.Trade.ActiveID, err = parseInt64Env("IQ_ACTIVE_ID", cfg.Trade.ActiveID); err != nil {
		return err
	}
	if cfg.Trade.Duration, err = parseIntEnv("IQ_TRADE_DURATION", cfg.Trade.Duration); err != nil {
		return err
	}
	if v := os.Getenv("IQ_TRADE_AMOUNT"); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("IQ_TRADE_AMOUNT: %w", err)
		}
		cfg.Trade.Amount = amount
	}
	return nil
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.Account.SSID == "" && (c.Account.Email == "" || c.Account.Password == "") {
		return fmt.Errorf("either account.ssid or account.email and account.password (IQ_EMAIL/IQ_PASSWORD) must be set")
	}
	if c.Connection.WSURL == "" {
		return fmt.Errorf("connection.ws_url must not be empty")
	}
	if c.Account.SSID == "" && c.Connection.LoginURL == "" {
		return fmt.Errorf("connection.login_url must not be empty")
	}
	if c.Connection.SendRate < 0 {
		return fmt.Errorf("connection.send_rate must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.auth":             c.Timeouts.Auth,
		"timeouts.request":          c.Timeouts.Request,
		"timeouts.open_ack":         c.Timeouts.OpenAck,
		"timeouts.settlement_grace": c.Timeouts.SettlementGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Trade.Duration <= 0 {
		return fmt.Errorf("trade.duration must be positive")
	}
	if c.Trade.Interval <= 0 {
		return fmt.Errorf("trade.interval must be positive")
	}
	if !c.Trade.Amount.IsPositive() {
		return fmt.Errorf("trade.amount must be positive")
	}
	if c.Trade.ProfitPercent <= 0 || c.Trade.ProfitPercent > 100 {
		return fmt.Errorf("trade.profit_percent must be in (0, 100]")
	}
	switch c.Trade.BalanceType {
	case "practice", "real", "tournament":
	default:
		return fmt.Errorf("trade.balance_type %q must be practice, real or tournament", c.Trade.BalanceType)
	}
	return nil
}

// ClientConfig maps the file settings onto the protocol client settings.
func (c *Config) ClientConfig() *iqoption.Config {
	cc := iqoption.DefaultConfig()
	cc.WSURL = c.Connection.WSURL
	cc.ProxyURL = c.Connection.Proxy
	cc.SSID = c.Account.SSID
	cc.AuthTimeout = c.Timeouts.Auth
	cc.RequestTimeout = c.Timeouts.Request
	cc.OpenAckTimeout = c.Timeouts.OpenAck
	cc.SettlementGrace = c.Timeouts.SettlementGrace
	cc.ProfitPercent = c.Trade.ProfitPercent
	cc.Transport = stream.TransportConfig{
		URL:              c.Connection.WSURL,
		ProxyURL:         c.Connection.Proxy,
		HandshakeTimeout: c.Connection.HandshakeTimeout,
		WriteTimeout:     c.Connection.WriteTimeout,
		PingInterval:     c.Connection.PingInterval,
		SendRate:         c.Connection.SendRate,
		SendBurst:        c.Connection.SendBurst,
	}
	return cc
}

// LoggerConfig maps the log section onto logger.Config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		OutputFile: c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
		JSON:       c.Log.JSON,
	}
}

// BalanceTypeID returns the billing type id for Trade.BalanceType.
func (c *Config) BalanceTypeID() int {
	switch c.Trade.BalanceType {
	case "real":
		return iqoption.BalanceTypeReal
	case "tournament":
		return iqoption.BalanceTypeTournament
	default:
		return iqoption.BalanceTypePractice
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
