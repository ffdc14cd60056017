package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPocketBase = "pocketbase"
	DriverPostgres   = "postgres"
	DriverMemory     = "memory"

	BackendCanned = "canned"
	BackendOpenAI = "openai"
)

type Config struct {
	Store        StoreConfig        `mapstructure:"store"`
	PocketBase   PocketBaseConfig   `mapstructure:"pocketbase"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Consultation ConsultationConfig `mapstructure:"consultation"`
	Chat         ChatConfig         `mapstructure:"chat"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Log          LogConfig          `mapstructure:"log"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=pocketbase postgres memory"`
}

type PocketBaseConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// AuthConfig holds the account the client signs in with automatically.
type AuthConfig struct {
	Email           string        `mapstructure:"email" validate:"required,email"`
	Password        string        `mapstructure:"password" validate:"required"`
	Name            string        `mapstructure:"name"`
	UsersCollection string        `mapstructure:"users_collection" validate:"required"`
	TokenSecret     string        `mapstructure:"token_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ConsultationConfig struct {
	Collection string `mapstructure:"collection" validate:"required"`
	// TypeAliases renames canonical types for stores with a different enum.
	TypeAliases       map[string]string `mapstructure:"type_aliases"`
	AcceptedTypes     []string          `mapstructure:"accepted_types"`
	MaxAttachmentSize int64             `mapstructure:"max_attachment_size" validate:"gte=0"`
	MaxAttachments    int               `mapstructure:"max_attachments" validate:"gte=0"`
}

type ChatConfig struct {
	Backend    string        `mapstructure:"backend" validate:"oneof=canned openai"`
	ReplyDelay time.Duration `mapstructure:"reply_delay" validate:"gte=0"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxHistory  int     `mapstructure:"max_history" validate:"gte=0"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Hostname() == "" {
		return DatabaseConfig{}, fmt.Errorf("no host in %q", u.Redacted())
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverPocketBase)

	v.SetDefault("pocketbase.base_url", "http://127.0.0.1:8090")
	v.SetDefault("pocketbase.timeout", 15*time.Second)

	v.SetDefault("auth.email", "admin@cara.com")
	v.SetDefault("auth.password", "Test12345$")
	v.SetDefault("auth.name", "Test User")
	v.SetDefault("auth.users_collection", "users")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "cara")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("consultation.collection", "consultations")
	v.SetDefault("consultation.accepted_types", []string{})
	v.SetDefault("consultation.max_attachment_size", 10<<20)
	v.SetDefault("consultation.max_attachments", 5)

	v.SetDefault("chat.backend", BackendCanned)
	v.SetDefault("chat.reply_delay", 2*time.Second)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.max_history", 20)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path (skipped when empty or missing), a .env file in the
// working directory, and the environment. Nested keys map to variables with
// dots replaced by underscores, e.g. STORE_DRIVER or CHAT_REPLY_DELAY.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %v", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Chat.Backend == BackendOpenAI && c.OpenAI.APIKey == "" {
		return errors.New("invalid config: openai.api_key is required when chat.backend is openai")
	}
	if c.Store.Driver == DriverPostgres && (c.Database.Host == "" || c.Database.DBName == "") {
		return errors.New("invalid config: database.host and database.dbname are required for the postgres driver")
	}
	return nil
}
