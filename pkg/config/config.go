package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Log      LogConfig
	Monitor  MonitorConfig
	Source   SourceConfig
	Telegram TelegramConfig
	SMTP     SMTPConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	HTTP     HTTPConfig
}

type LogConfig struct {
	Level string
	Env   string
}

type MonitorConfig struct {
	CheckInterval    time.Duration
	ReportTimes      []string
	AlertCooldown    time.Duration
	FetchTimeout     time.Duration
	DeliveryTimeout  time.Duration
	DefaultThreshold int
	PassWorkers      int
	AutoStart        bool
	Locations        []LocationSeed
}

// LocationSeed is a location registered at startup
type LocationSeed struct {
	Name      string
	Lat       float64
	Lon       float64
	Threshold int
}

type SourceConfig struct {
	Provider string // waqi, simulated
	APIKey   string
	BaseURL  string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string
	AppURL   string
}

// Enabled reports whether both credentials are present
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	CooldownStore string // memory, redis
}

type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	TopicReadings      string
	TopicNotifications string
	NotifierGroupID    string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type HTTPConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	defaultThreshold := getEnvAsInt("DEFAULT_THRESHOLD", 100)

	config := &Config{
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Env:   getEnv("APP_ENV", "production"),
		},
		Monitor: MonitorConfig{
			CheckInterval:    getEnvAsDuration("CHECK_INTERVAL", 30*time.Minute),
			ReportTimes:      splitList(getEnv("REPORT_TIMES", "08:00,20:00")),
			AlertCooldown:    getEnvAsDuration("ALERT_COOLDOWN", time.Hour),
			FetchTimeout:     getEnvAsDuration("FETCH_TIMEOUT", 10*time.Second),
			DeliveryTimeout:  getEnvAsDuration("DELIVERY_TIMEOUT", 10*time.Second),
			DefaultThreshold: defaultThreshold,
			PassWorkers:      getEnvAsInt("PASS_WORKERS", 4),
			AutoStart:        getEnvAsBool("MONITOR_AUTOSTART", false),
		},
		Source: SourceConfig{
			Provider: getEnv("AQI_PROVIDER", "simulated"),
			APIKey:   getEnv("AQI_API_KEY", ""),
			BaseURL:  getEnv("AQI_BASE_URL", "https://api.waqi.info"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
			BaseURL:  getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
			AppURL:   getEnv("APP_URL", ""),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "aqi-monitor@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			CooldownStore: getEnv("COOLDOWN_STORE", "memory"),
		},
		Kafka: KafkaConfig{
			Enabled:            getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:            splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicReadings:      getEnv("KAFKA_TOPIC_READINGS", "aqi.readings"),
			TopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "aqi.notifications"),
			NotifierGroupID:    getEnv("KAFKA_NOTIFIER_GROUP", "aqi-notifier"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "aqi_user"),
			Password: getEnv("DB_PASSWORD", "aqi_pass"),
			DBName:   getEnv("DB_NAME", "aqi_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
	}

	locations, err := ParseLocations(getEnv("LOCATIONS", ""), defaultThreshold)
	if err != nil {
		return nil, err
	}
	config.Monitor.Locations = locations

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive")
	}
	if c.Monitor.AlertCooldown < 0 {
		return fmt.Errorf("ALERT_COOLDOWN must not be negative")
	}
	if c.Monitor.FetchTimeout <= 0 || c.Monitor.DeliveryTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT and DELIVERY_TIMEOUT must be positive")
	}
	if c.Monitor.DefaultThreshold < 0 {
		return fmt.Errorf("DEFAULT_THRESHOLD must not be negative")
	}
	for _, t := range c.Monitor.ReportTimes {
		if _, _, err := ParseTimeOfDay(t); err != nil {
			return fmt.Errorf("REPORT_TIMES: %w", err)
		}
	}
	switch c.Source.Provider {
	case "simulated", "waqi":
	default:
		return fmt.Errorf("invalid AQI_PROVIDER %q (allowed: simulated, waqi)", c.Source.Provider)
	}
	switch c.Redis.CooldownStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid COOLDOWN_STORE %q (allowed: memory, redis)", c.Redis.CooldownStore)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day: %s", s)
	}
	return hour, minute, nil
}

// ParseLocations parses "name:lat:lon[:threshold];..." entries.
func ParseLocations(s string, defaultThreshold int) ([]LocationSeed, error) {
	var seeds []LocationSeed
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("invalid location entry %q (expected name:lat:lon[:threshold])", entry)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", entry, err)
		}

		threshold := defaultThreshold
		if len(parts) == 4 {
			threshold, err = strconv.Atoi(strings.TrimSpace(parts[3]))
			if err != nil || threshold < 0 {
				return nil, fmt.Errorf("invalid threshold in %q", entry)
			}
		}

		seeds = append(seeds, LocationSeed{
			Name:      strings.TrimSpace(parts[0]),
			Lat:       lat,
			Lon:       lon,
			Threshold: threshold,
		})
	}
	return seeds, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
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
