package config

import "time"

// StoreDriver message store backend
type StoreDriver string

const (
	// StoreMemory in process store, data lost on restart
	StoreMemory StoreDriver = "memory"
	// StoreMongo mongo collection chat_messages
	StoreMongo StoreDriver = "mongo"
	// StorePostgres postgres table chat_messages via gorm
	StorePostgres StoreDriver = "postgres"
)

// RegistryDriver group registry backend
type RegistryDriver string

const (
	// RegistryMemory single node registry
	RegistryMemory RegistryDriver = "memory"
	// RegistryRedis redis pub/sub registry, sends reach every node
	RegistryRedis RegistryDriver = "redis"
)

// Chat definition chat_service YAML structure
type Chat struct {
	Port           string         `mapstructure:"port"`
	GRPCPort       string         `mapstructure:"grpc_port"`
	RequireAuth    bool           `mapstructure:"require_auth"`
	JWTSecret      string         `mapstructure:"jwt_secret"`
	StoreDriver    StoreDriver    `mapstructure:"store_driver"`
	RegistryDriver RegistryDriver `mapstructure:"registry_driver"`
	StoreTimeout   time.Duration  `mapstructure:"store_timeout"`
	SendBuffer     int            `mapstructure:"send_buffer"`
	PingInterval   time.Duration  `mapstructure:"ping_interval"`
	HistoryLimit   int            `mapstructure:"history_limit"`
	Pprof          string         `mapstructure:"pprof"`

	MongoSQL   DatabaseConfig `mapstructure:"mongo"`
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
}

// ChatDefaults default values of Chat keys
func ChatDefaults() map[string]interface{} {
	return map[string]interface{}{
		"port":                 "8080",
		"grpc_port":            "9090",
		"require_auth":         false,
		"store_driver":         string(StoreMemory),
		"registry_driver":      string(RegistryMemory),
		"store_timeout":        "5s",
		"send_buffer":          256,
		"ping_interval":        "30s",
		"history_limit":        100,
		"mongo.database":       "chat",
		"mongo.retry_count":    3,
		"mongo.retry_interval": 2,
		"pg.retry_count":       3,
		"pg.retry_interval":    2,
		"redis.retry_count":    3,
		"redis.retry_interval": 2,
		"kafka.topic":          "chat.messages",
		"kafka.retry_count":    3,
		"kafka.retry_interval": 2,
	}
}

// RedisConfig definition redis setting
type RedisConfig struct {
	// Addr standalone redis address, empty means sentinel from .env
	Addr          string `mapstructure:"addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryInterval int    `mapstructure:"retry_interval"`
}

// KafkaConfig definition message stream setting, no brokers means disabled
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryCount    int      `mapstructure:"retry_count"`
	RetryInterval int      `mapstructure:"retry_interval"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
