// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Client      ClientConfig      `mapstructure:"client"`
	Preferences PreferencesConfig `mapstructure:"preferences"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DatabaseConfig 存储关系型数据库的配置。Driver 取值 mysql、postgres 或 sqlite。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储对话事件流的配置，Enabled 为 false 时不连接 Kafka。
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      string        `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ProxyConfig 存储 /api/generate 转发到外部生成服务的配置。
type ProxyConfig struct {
	DefaultEndpoint string        `mapstructure:"default_endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// ClientConfig 存储会话管理器调用代理端点时使用的配置。
type ClientConfig struct {
	ProxyURL string        `mapstructure:"proxy_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PreferencesConfig 存储用户偏好（生成端点地址）的持久化方式。
type PreferencesConfig struct {
	Backend string `mapstructure:"backend"`
	Key     string `mapstructure:"key"`
}

// DefaultGenerateEndpoint 是未配置任何端点时使用的外部生成服务地址。
const DefaultGenerateEndpoint = "https://unfertilizable-homologically-amanda.ngrok-free.dev/generate"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "chatfront.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chatfront.conversations")
	v.SetDefault("kafka.write_timeout", time.Second)
	v.SetDefault("kafka.max_attempts", 2)

	v.SetDefault("proxy.default_endpoint", DefaultGenerateEndpoint)
	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.user_agent", "Chatbot-Client/1.0")

	v.SetDefault("client.proxy_url", "")
	v.SetDefault("client.timeout", 30*time.Second)

	v.SetDefault("preferences.backend", "memory")
	v.SetDefault("preferences.key", "apiEndpoint")
}

// Load 读取配置文件并与默认值、CHATFRONT_ 前缀的环境变量合并。
// configPath 为空或文件不存在时只使用默认值和环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHATFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Client.ProxyURL == "" {
		cfg.Client.ProxyURL = fmt.Sprintf("http://127.0.0.1:%s/api/generate", cfg.Server.Port)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
