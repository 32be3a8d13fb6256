package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса аудита.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Auditor  AuditorConfig  `mapstructure:"auditor"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы и блокировки джобов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и учетку оператора консоли.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	OperatorLogin  string        `mapstructure:"operator_login"`
	// bcrypt-хэш секрета оператора; сам секрет нигде не хранится
	OperatorSecretHash string `mapstructure:"operator_secret_hash"`
	PublicKey          []byte
	PrivateKey         []byte
}

// AuditorConfig — бюджеты и пределы часового цикла проб.
type AuditorConfig struct {
	// Бюджет одного запуска: максимум трат и максимум проб
	MaxSpendUSDC float64 `mapstructure:"max_spend_usdc"`
	MaxProbes    int     `mapstructure:"max_probes"`

	// Ценовой потолок планировщика (эндпоинты дороже не выбираются)
	PriceCeilingUSDC float64 `mapstructure:"price_ceiling_usdc"`

	// Жесткий предохранитель исполнителя: максимум, который мы готовы заплатить
	// по ОДНОМУ 402-предложению, в минорных юнитах. Никогда не переопределяется
	// данными со стороны проверяемого эндпоинта.
	PaymentCeilingMinorUnits uint64 `mapstructure:"payment_ceiling_minor_units"`

	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	CandidateWindow int           `mapstructure:"candidate_window"`

	// Адрес аудитора в леджере (публичный, для фидов и леджер-клиента)
	AuditorAddress string        `mapstructure:"auditor_address"`
	HourlyInterval time.Duration `mapstructure:"hourly_interval"`
}

// LedgerConfig — подключение к signer-сайдкару и настройки надежности.
type LedgerConfig struct {
	SignerURL string `mapstructure:"signer_url"`

	// Rate limit исходящих вызовов к сайдкару
	RateLimit int `mapstructure:"rate_limit"`
	RateBurst int `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ReportsConfig — параметры ежедневной компиляции отчетов.
type ReportsConfig struct {
	// Опорная таймзона календарного дня (IANA-имя)
	Timezone string `mapstructure:"timezone"`
	// Смещение от полуночи, чтобы гарантированно собрать весь вчерашний день
	DailyOffset time.Duration `mapstructure:"daily_offset"`
	// Размер пула воркеров компиляции (агенты независимы)
	Workers int `mapstructure:"workers"`
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
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. Переменные окружения перекрывают файл: AUDITOR_MAX_PROBES и т.д.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
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

	// 6. Ключи из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("auditor.max_spend_usdc", 1.0)
	v.SetDefault("auditor.max_probes", 50)
	v.SetDefault("auditor.price_ceiling_usdc", 0.05)
	v.SetDefault("auditor.payment_ceiling_minor_units", 100_000) // $0.10 USDC
	v.SetDefault("auditor.probe_timeout", 15*time.Second)
	v.SetDefault("auditor.candidate_window", 100)
	v.SetDefault("auditor.hourly_interval", time.Hour)

	v.SetDefault("ledger.rate_limit", 10)
	v.SetDefault("ledger.rate_burst", 5)
	v.SetDefault("ledger.cb_max_requests", 3)
	v.SetDefault("ledger.cb_interval", 5*time.Second)
	v.SetDefault("ledger.cb_timeout", 30*time.Second)
	v.SetDefault("ledger.request_timeout", 10*time.Second)

	v.SetDefault("reports.timezone", "UTC")
	v.SetDefault("reports.daily_offset", 15*time.Minute)
	v.SetDefault("reports.workers", 4)
}

// loadKeyResource — универсальный хелпер: ключ из ENV или из файла по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
