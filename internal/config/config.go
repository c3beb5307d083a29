// config предоставляет структуру конфигурации users-service и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Поддерживаемые драйверы хранилища учётных записей.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	Cookies   CookieConfig    `yaml:"cookies"`
	DB        DBConfig        `yaml:"db"`
	S3        S3Config        `yaml:"s3"`
	Media     MediaConfig     `yaml:"media"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Limits    LimitsConfig    `yaml:"limits"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Janitor   JanitorConfig   `yaml:"janitor"`
}

// HTTPConfig — сетевые настройки REST API (и /metrics, /healthz).
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"8000"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api/v1/users"`
}

// GRPCConfig — адрес gRPC-сервера со стандартным health-сервисом.
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50061"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig содержит параметры выпуска/валидации токенов и хэширования паролей.
// Секреты access и refresh токенов обязаны различаться.
type AuthConfig struct {
	AccessTokenSecret  string        `yaml:"access_token_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	RefreshTokenSecret string        `yaml:"refresh_token_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"240h"`
	Issuer             string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"users-service"`
	Audience           []string      `yaml:"audience" env:"TOKEN_AUDIENCE" env-default:"web"`
	BcryptCost         int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
	// RevokeSessionsOnPasswordChange — сбрасывать refresh-токен при смене пароля.
	RevokeSessionsOnPasswordChange bool `yaml:"revoke_sessions_on_password_change" env:"REVOKE_SESSIONS_ON_PASSWORD_CHANGE" env-default:"false"`
}

// CookieConfig — атрибуты cookie accessToken/refreshToken.
type CookieConfig struct {
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE" env-default:"true"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAME_SITE" env-default:"strict"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
	Path     string `yaml:"path" env:"COOKIE_PATH" env-default:"/"`
}

// SameSiteMode переводит строковое значение в http.SameSite.
// Неизвестные значения трактуются как strict.
func (c CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(strings.TrimSpace(c.SameSite)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// DBConfig — выбор драйвера и строка подключения.
// Для mongo имя БД берётся из пути URI, для postgres — стандартный DSN pgx.
type DBConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"mongo"`
	URL    string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// S3Config — подключение к объектному хранилищу для аватаров и обложек.
type S3Config struct {
	Endpoint      string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"localhost:9000"`
	Region        string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	AccessKey     string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"S3_SECRET_KEY"`
	Bucket        string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	UseSSL        bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
	PublicBaseURL string `yaml:"public_base_url" env:"S3_PUBLIC_BASE_URL"`
}

// MediaConfig — ограничения на загружаемые изображения.
type MediaConfig struct {
	MaxSizeBytes        int64    `yaml:"max_size_bytes" env:"MEDIA_MAX_SIZE_BYTES" env-default:"5242880"`
	AllowedContentTypes []string `yaml:"allowed_content_types" env:"MEDIA_ALLOWED_CONTENT_TYPES" env-default:"image/jpeg,image/png,image/webp"`
}

// RedisConfig — пустой URL означает in-memory лимитер.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// RateLimitConfig — лимит попыток login/refresh с одного IP за окно.
// Requests == 0 отключает ограничение.
//
// TrustedProxies — адреса или CIDR обратных прокси. Заголовки X-Forwarded-For
// и X-Real-Ip учитываются, только если соединение пришло с такого адреса;
// пустой список означает, что ключом всегда служит адрес соединения.
type RateLimitConfig struct {
	Requests       int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS" env-default:"10"`
	Window         time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
	TrustedProxies []string      `yaml:"trusted_proxies" env:"RATE_LIMIT_TRUSTED_PROXIES"`
}

// TrustedProxyPrefixes разбирает TrustedProxies; одиночный адрес становится префиксом /32 (/128).
func (c RateLimitConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	const op = "config.TrustedProxyPrefixes"

	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			out = append(out, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return out, nil
}

// LimitsConfig — ограничения на размеры тел запросов.
type LimitsConfig struct {
	JSONBodyBytes        int64 `yaml:"json_body_bytes" env:"LIMIT_JSON_BODY_BYTES" env-default:"16384"`
	MultipartMemoryBytes int64 `yaml:"multipart_memory_bytes" env:"LIMIT_MULTIPART_MEMORY_BYTES" env-default:"8388608"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"10s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// JanitorConfig — период очистки просроченных refresh-токенов. 0 отключает.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
}

// Validate проверяет инварианты, которые не выражаются тегами cleanenv.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("%s: access and refresh token secrets must differ", op)
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("%s: token ttl must be positive", op)
	}

	switch c.DB.Driver {
	case DriverMongo, DriverPostgres:
	default:
		return fmt.Errorf("%s: unknown db driver %q", op, c.DB.Driver)
	}

	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("%s: rate_limit.requests must be >= 0", op)
	}

	if _, err := c.RateLimit.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("%s: rate_limit.trusted_proxies: %w", op, err)
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config %q: %w", p, err)
		}

		return nil
	}

	fromFile := true
	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err != nil {
			fromFile = false
			break
		}

		if err := readFile("local.yaml"); err != nil {
			return nil, err
		}
	}

	// ENV поверх YAML (или единственный источник, если файла нет).
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		if !fromFile {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}

		return nil, fmt.Errorf("failed to overlay env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
