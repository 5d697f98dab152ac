package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации подложки live-операций.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки локального Console API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// UpstreamConfig описывает подключение к авторитетному REST/SSE серверу.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Лимитер исходящих запросов к апстриму
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker для REST-адаптера
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// RedisConfig описывает подключение к Redis (межпроцессная шина координатора).
// Пустой Addr переводит процесс в одиночный режим: он всегда сам себе лидер.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Group — имя broadcast-группы оператора. Все инстансы одной группы
	// делят один канал и одного лидера потока.
	Group string `mapstructure:"group"`
}

// AuthConfig содержит bearer-токен оператора (или путь к файлу с ним).
type AuthConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

// StreamConfig содержит параметры переподключения SSE-транспорта.
type StreamConfig struct {
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`

	// LeaderTimeout — сколько фолловер ждет тишины на шине,
	// прежде чем попытаться забрать поток себе.
	LeaderTimeout time.Duration `mapstructure:"leader_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: UPSTREAM_BASE_URL перекроет upstream.base_url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Токен из ENV ИЛИ из файла
	// Сначала проверяем, не прилетел ли токен напрямую (Docker/K8s),
	// иначе читаем файл по указанному пути
	if tok := loadTokenResource(cfg.Auth.TokenFile, "AUTH_BEARER_TOKEN"); tok != "" {
		cfg.Auth.Token = tok
	}

	if cfg.Upstream.BaseURL == "" {
		return nil, errors.New("upstream.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("upstream.request_timeout", 15*time.Second)
	v.SetDefault("upstream.rate_limit", 50.0)
	v.SetDefault("upstream.rate_burst", 10)
	v.SetDefault("upstream.cb_max_requests", 3)
	v.SetDefault("upstream.cb_interval", 5*time.Second)
	v.SetDefault("upstream.cb_timeout", 30*time.Second)
	v.SetDefault("redis.group", "default")
	v.SetDefault("stream.backoff_base", 2*time.Second)
	v.SetDefault("stream.backoff_factor", 2.0)
	v.SetDefault("stream.backoff_cap", 30*time.Second)
	v.SetDefault("stream.leader_timeout", 45*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadTokenResource — универсальный хелпер: ENV имеет приоритет над файлом
func loadTokenResource(path string, envKey string) string {
	if data := os.Getenv(envKey); data != "" {
		return data
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}
