package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"qxtrader/bot"
	"qxtrader/exchange"
	"qxtrader/journal"
	"qxtrader/model"
	"qxtrader/protocol"
	"qxtrader/utils/log"
)

const DefaultPath = "config.yaml"

type TradeConfig struct {
	Amount    float64       `yaml:"amount"`
	Duration  int64         `yaml:"duration"`
	Cooldown  time.Duration `yaml:"cooldown"`
	AutoTrade bool          `yaml:"autotrade"`
	Assets    []string      `yaml:"assets"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type Config struct {
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Lang        string `yaml:"lang"`
	UserAgent   string `yaml:"user_agent"`
	SessionPath string `yaml:"session_path"`
	AccountMode string `yaml:"account_mode"`

	DefaultAsset  string `yaml:"default_asset"`
	DefaultPeriod int64  `yaml:"default_period"`

	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	BuyPollInterval   time.Duration `yaml:"buy_poll_interval"`
	DataCeiling       time.Duration `yaml:"data_ceiling"`
	SendRate          float64       `yaml:"send_rate"`
	MaxProtocolErrors int           `yaml:"max_protocol_errors"`
	MaxCandles        int           `yaml:"max_candles"`

	LogLevel    string `yaml:"log_level"`
	Trace       bool   `yaml:"trace"`
	Strategy    string `yaml:"strategy"`
	ChartAddr   string `yaml:"chart_addr"`
	JournalPath string `yaml:"journal_path"`

	Trade    TradeConfig    `yaml:"trade"`
	Telegram TelegramConfig `yaml:"telegram"`
	// 이벤트 이름 재정의. 비어 있는 항목은 기본값 유지
	Events protocol.Names `yaml:"events"`
}

func Default() Config {
	return Config{
		Host:              exchange.DefaultHost,
		Lang:              exchange.DefaultLang,
		UserAgent:         exchange.DefaultUserAgent,
		SessionPath:       "session.json",
		AccountMode:       string(model.AccountPractice),
		DefaultAsset:      "EURUSD",
		DefaultPeriod:     60,
		ReconnectAttempts: 5,
		ReconnectDelay:    5 * time.Second,
		BuyPollInterval:   200 * time.Millisecond,
		DataCeiling:       30 * time.Second,
		SendRate:          10,
		MaxProtocolErrors: 20,
		MaxCandles:        5000,
		LogLevel:          "info",
		Strategy:          "keltner_rsi",
		ChartAddr:         ":8080",
		JournalPath:       journal.DefaultPath,
		Trade: TradeConfig{
			Amount:   bot.DefaultAmount,
			Duration: bot.DefaultDuration,
			Cooldown: bot.DefaultCooldown,
		},
	}
}

// Load 기본값 -> yaml 파일 -> .env -> 환경변수 순으로 덮어쓴다. 파일이 없으면 건너뛴다.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config '%s': %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Debugf("[CONFIG] %s not found, using defaults", path)
		default:
			return cfg, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
	}

	_ = godotenv.Load(envFiles...) // .env 는 선택
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Email, "QX_EMAIL")
	setString(&c.Password, "QX_PASSWORD")
	setString(&c.Host, "QX_HOST")
	setString(&c.Lang, "QX_LANG")
	setString(&c.UserAgent, "QX_USER_AGENT")
	setString(&c.SessionPath, "QX_SESSION_PATH")
	setString(&c.AccountMode, "QX_ACCOUNT_MODE")
	setString(&c.DefaultAsset, "QX_DEFAULT_ASSET")
	setString(&c.LogLevel, "QX_LOG_LEVEL")
	setString(&c.Strategy, "QX_STRATEGY")
	setString(&c.ChartAddr, "QX_CHART_ADDR")
	setString(&c.JournalPath, "QX_JOURNAL_PATH")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	if v, ok := os.LookupEnv("QX_DEFAULT_PERIOD"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("QX_DEFAULT_PERIOD: %w", err)
		}
		c.DefaultPeriod = n
	}
	if v, ok := os.LookupEnv("QX_TRADE_AMOUNT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("QX_TRADE_AMOUNT: %w", err)
		}
		c.Trade.Amount = f
	}
	if v, ok := os.LookupEnv("QX_AUTOTRADE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("QX_AUTOTRADE: %w", err)
		}
		c.Trade.AutoTrade = b
	}
	if v, ok := os.LookupEnv("QX_TRADE_ASSETS"); ok {
		c.Trade.Assets = splitList(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if _, ok := model.ParseAccountMode(c.AccountMode); !ok {
		return fmt.Errorf("unknown account mode: %s", c.AccountMode)
	}
	if c.DefaultPeriod <= 0 {
		return fmt.Errorf("default period must be greater than 0")
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect attempts must be greater than 0")
	}
	if c.ReconnectDelay < 0 || c.BuyPollInterval < 0 || c.DataCeiling < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.Trade.Amount <= 0 {
		return fmt.Errorf("trade amount must be greater than 0")
	}
	if c.MaxProtocolErrors < 0 || c.MaxCandles < 0 {
		return fmt.Errorf("max_protocol_errors and max_candles cannot be negative")
	}
	return nil
}

// RequireCredentials 로그인에 필요한 값이 없으면 ErrMissingCredentials
func (c Config) RequireCredentials() error {
	var missing []string
	if c.Email == "" {
		missing = append(missing, "QX_EMAIL")
	}
	if c.Password == "" {
		missing = append(missing, "QX_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", model.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) Exchange() exchange.Config {
	mode, _ := model.ParseAccountMode(c.AccountMode)
	return exchange.Config{
		Email:         c.Email,
		Password:      c.Password,
		Host:          c.Host,
		Lang:          c.Lang,
		UserAgent:     c.UserAgent,
		SessionPath:   c.SessionPath,
		AccountMode:   mode,
		DefaultAsset:  c.DefaultAsset,
		DefaultPeriod: c.DefaultPeriod,
		Attempts:      c.ReconnectAttempts,
		Delay:         c.ReconnectDelay,
		Ceiling:       c.DataCeiling,
		PollInterval:  c.BuyPollInterval,
		SendRate:      c.SendRate,
		Names:         c.Events,
		Trace:         c.Trace,

		MaxProtocolErrors: c.MaxProtocolErrors,
		MaxCandles:        c.MaxCandles,
	}
}

func (c Config) Bot() bot.Config {
	return bot.Config{
		Assets:    c.Trade.Assets,
		Amount:    c.Trade.Amount,
		Duration:  c.Trade.Duration,
		Cooldown:  c.Trade.Cooldown,
		AutoTrade: c.Trade.AutoTrade,
	}
}
