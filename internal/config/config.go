package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	GroupID string           `mapstructure:"group_id"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RaffleState string `mapstructure:"raffle_state"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
}

type StorageConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	PublicEndpoint string `mapstructure:"public_endpoint"`
	Region         string `mapstructure:"region"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	Bucket         string `mapstructure:"bucket"`
	SSLDisabled    bool   `mapstructure:"ssl_disabled"`
}

type AuthConfig struct {
	TokenSecret    string `mapstructure:"token_secret"`
	CallbackSecret string `mapstructure:"callback_secret"`
}

type BusinessConfig struct {
	StartingCredits       int64         `mapstructure:"starting_credits"`
	DrawDelay             time.Duration `mapstructure:"draw_delay"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	DrawGracePeriod       time.Duration `mapstructure:"draw_grace_period"`
	TicketNumberSpace     int64         `mapstructure:"ticket_number_space"`
	UniqueTicketNumbers   bool          `mapstructure:"unique_ticket_numbers"`
	MaxTxRetries          int           `mapstructure:"max_tx_retries"`
	RetryInitialInterval  time.Duration `mapstructure:"retry_initial_interval"`
	DailyRewardCredits    int64         `mapstructure:"daily_reward_credits"`
	DailyRewardXP         int64         `mapstructure:"daily_reward_xp"`
	DailyRewardCooldown   time.Duration `mapstructure:"daily_reward_cooldown"`
	OutboxInterval        time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount         int           `mapstructure:"max_retry_count"`
}

// Default 未配置时的业务默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Log:    LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Driver:       "mysql",
			SQLitePath:   "raffle.db",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
		},
		Kafka: KafkaConfig{
			GroupID: "raffle-draw",
			Topic:   KafkaTopicConfig{RaffleState: "raffle_state"},
		},
		Stripe: StripeConfig{Currency: "usd"},
		Business: BusinessConfig{
			StartingCredits:      5,
			DrawDelay:            72 * time.Hour,
			SweepInterval:        15 * time.Minute,
			DrawGracePeriod:      10 * time.Minute,
			TicketNumberSpace:    10000,
			UniqueTicketNumbers:  true,
			MaxTxRetries:         3,
			RetryInitialInterval: 50 * time.Millisecond,
			DailyRewardCredits:   2,
			DailyRewardXP:        10,
			DailyRewardCooldown:  24 * time.Hour,
			OutboxInterval:       500 * time.Millisecond,
			MaxRetryCount:        5,
		},
	}
}

// LoadConfig 加载配置文件
//
// 优先级：环境变量 > 配置文件 > 默认值。密钥类配置（stripe、auth）建议只放在 .env 中，
// 例如 STRIPE_SECRET_KEY、STRIPE_WEBHOOK_SECRET。
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"stripe.secret_key", "stripe.webhook_secret",
		"auth.token_secret", "auth.callback_secret",
		"database.password", "storage.access_key", "storage.secret_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return cfg, nil
}
