package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel  string   `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort  string   `yaml:"http-port" env:"HTTP_PORT" env-default:"3000"`
	PublicURL string   `yaml:"public-url" env:"PUBLIC_URL" env-default:""`
	Origins   []string `yaml:"allowed-origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	Telegram  Telegram `yaml:"telegram"`
	Redis     Redis    `yaml:"redis"`
	Session   Session  `yaml:"session"`
	Game      Game     `yaml:"game"`
	Lobby     Lobby    `yaml:"lobby"`
	OTel      OTel     `yaml:"otel"`
}

type Telegram struct {
	BotToken   string        `yaml:"bot-token" env:"TELEGRAM_BOT_TOKEN" env-default:""`
	MaxAuthAge time.Duration `yaml:"max-auth-age" env:"TELEGRAM_MAX_AUTH_AGE" env-default:"24h"`
}

type Redis struct {
	Enabled bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Host    string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port    string        `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	UserTTL time.Duration `yaml:"user-ttl" env:"REDIS_USER_TTL" env-default:"24h"`
}

type Session struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat-timeout" env:"SESSION_HEARTBEAT_TIMEOUT" env-default:"45s"`
	ReconnectGrace   time.Duration `yaml:"reconnect-grace" env:"SESSION_RECONNECT_GRACE" env-default:"20s"`
	SweepInterval    time.Duration `yaml:"sweep-interval" env:"SESSION_SWEEP_INTERVAL" env-default:"5s"`
	LobbyIdleTimeout time.Duration `yaml:"lobby-idle-timeout" env:"SESSION_LOBBY_IDLE_TIMEOUT" env-default:"10m"`
	SendBuffer       int           `yaml:"send-buffer" env:"SESSION_SEND_BUFFER" env-default:"16"`
}

type Game struct {
	AbandonPolicy string `yaml:"abandon-policy" env:"GAME_ABANDON_POLICY" env-default:"walkover"`
}

type Lobby struct {
	CodeLength int `yaml:"code-length" env:"LOBBY_CODE_LENGTH" env-default:"6"`
}

type OTel struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_ENDPOINT" env-default:""`
	ServiceName string `yaml:"service-name" env:"OTEL_SERVICE_NAME" env-default:"quantum-ttt3d"`
}

// MustLoad - load all configurations in config.yml file, falling back to the environment when the file is absent.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to read env: %w", err)
		}

		return config, nil
	}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
