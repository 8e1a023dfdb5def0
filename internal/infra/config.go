package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации ядра оркестрации.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Requester RequesterConfig `mapstructure:"requester"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Events    EventsConfig    `mapstructure:"events"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig описывает отдельный listener для Prometheus.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
// Пустой URL выключает зеркало дескрипторов и журнал событий.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub управляющих сигналов).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA-ключу внешнего эмитента токенов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// RequesterConfig — настройки исходящего клиента и его предохранителей.
type RequesterConfig struct {
	FailureThreshold  int           `mapstructure:"failure_threshold"`   // Неудач до открытия
	FailureWindow     time.Duration `mapstructure:"failure_window"`      // Окно счёта неудач
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`        // Стартовая задержка открытого состояния
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`         // Потолок удвоения
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`     // Таймаут вызова, если не задан явно
	CountClientErrors bool          `mapstructure:"count_client_errors"` // Считать ли 4xx неудачами
	RateLimitRPS      float64       `mapstructure:"rate_limit_rps"`      // 0 — лимитер выключен
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
}

// RegistryConfig — настройки реестра сервисов и пробера.
type RegistryConfig struct {
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	HealthPath         string        `mapstructure:"health_path"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"` // Последовательных неудач до unhealthy
	WaitPollInterval   time.Duration `mapstructure:"wait_poll_interval"`
}

// AgentsConfig — настройки реестра агентов и задач.
type AgentsConfig struct {
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`       // Период проверки таймаутов задач
	EMAAlpha           float64       `mapstructure:"ema_alpha"`            // Коэффициент сглаживания метрик агента
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"` // Таймаут задачи, если не задан явно
}

// PlannerConfig — настройки исполнителя планов.
type PlannerConfig struct {
	StepRetries        int           `mapstructure:"step_retries"` // Попыток на шаг, включая первую
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`        // Период опроса статуса задачи шага
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"` // Нижняя граница таймаута шага
}

// EventsConfig — настройки журнала событий оркестрации.
type EventsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
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
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
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

	// 6. Публичный ключ: либо PEM прямо в ENV (для Docker/K8s), либо файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")

	v.SetDefault("requester.failure_threshold", 5)
	v.SetDefault("requester.failure_window", 60*time.Second)
	v.SetDefault("requester.base_backoff", 1*time.Second)
	v.SetDefault("requester.max_backoff", 60*time.Second)
	v.SetDefault("requester.default_timeout", 10*time.Second)

	v.SetDefault("registry.probe_interval", 30*time.Second)
	v.SetDefault("registry.probe_timeout", 5*time.Second)
	v.SetDefault("registry.health_path", "/health")
	v.SetDefault("registry.unhealthy_threshold", 3)
	v.SetDefault("registry.wait_poll_interval", 1*time.Second)

	v.SetDefault("agents.sweep_interval", 5*time.Second)
	v.SetDefault("agents.ema_alpha", 0.2)
	v.SetDefault("agents.default_task_timeout", 5*time.Minute)

	v.SetDefault("planner.step_retries", 3)
	v.SetDefault("planner.retry_delay", 2*time.Second)
	v.SetDefault("planner.poll_interval", 500*time.Millisecond)
	v.SetDefault("planner.default_step_timeout", 5*time.Minute)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.buffer_size", 10000)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер для ключей
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
