package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrMissingToken = errors.New("BOT_TOKEN is not set and config.json has no bot_token")

type Config struct {
	BotToken           string `env:"BOT_TOKEN"`
	ConfigFile         string `env:"CONFIG_FILE" envDefault:"config.json"`
	ServerIP           string `env:"SERVER_IP"`
	DropPendingUpdates bool   `env:"DROP_PENDING_UPDATES" envDefault:"false"`

	DatabasePath    string `env:"DB_PATH" envDefault:"kombat.db"`
	DatabaseLogging bool   `env:"DB_LOGGING" envDefault:"false"`

	GameBaseURL string        `env:"GAME_BASE_URL" envDefault:"https://api.hamsterkombatgame.io"`
	GameTimeout time.Duration `env:"GAME_TIMEOUT" envDefault:"20s"`

	ProxyJudges []string `env:"PROXY_JUDGES" envSeparator:"," envDefault:"http://azenv.net/,http://httpheader.net/azenv.php,http://mojeip.net.pl/asdfa/azenv.php"`

	EventBrokerDSN    string `env:"EVENT_BROKER_DSN"`
	SchedulerExecutor bool   `env:"SCHEDULER_EXECUTOR" envDefault:"true"`
	NightSleep        bool   `env:"NIGHT_SLEEP" envDefault:"false"`

	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"Europe/Moscow"`
	PolicyFile      string `env:"POLICY_FILE"`
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8081"`
	MaxAccounts     int    `env:"MAX_ACCOUNTS" envDefault:"5"`

	Log LogConfig
}

// fileConfig is the legacy config.json layout.
type fileConfig struct {
	BotToken string `json:"bot_token"`
}

// Load reads .env (when present), then the process environment. The bot token
// falls back to config.json so older deployments keep working.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.BotToken == "" {
		token, err := readTokenFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		cfg.BotToken = token
	}
	if cfg.BotToken == "" {
		return Config{}, ErrMissingToken
	}
	return cfg, nil
}

// Location resolves DisplayTimezone, falling back to UTC on unknown names.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func readTokenFile(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	var fc fileConfig
	if err := json.NewDecoder(file).Decode(&fc); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return fc.BotToken, nil
}
