package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"biosensor-monitor/internal/models"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// 设备数据主题模板，%s 为 device_id
	DataTopicTemplate    string
	CommandTopicTemplate string
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	ShardCount       int           // 分片 worker 数量（同 key 串行，跨 key 并行）
	QueueCapacity    int           // 每个分片的有界队列容量
	WindowMaxSamples int           // 滑动窗口最大样本数 M
	WindowSpan       time.Duration // 滑动窗口时间跨度
	IdleEviction     time.Duration // 无读数时窗口 key 的闲置淘汰时间
	MinSamples       int           // 异常检测最少样本数
	ZScoreThreshold  float64       // 异常判定 Z 分数阈值
	QualityFloor     float64       // 质量分下限（低于该值标记 low_quality）
	MaxFutureSkew    time.Duration // 时间戳允许的最大未来偏移
}

// ReconnectConfig 设备重连退避配置
type ReconnectConfig struct {
	BaseDelay   time.Duration // 初始退避延迟
	MaxDelay    time.Duration // 退避延迟上限
	MaxAttempts int           // 连接尝试次数上限，超过后标记 unreachable
}

// PersistenceConfig 持久化配置
type PersistenceConfig struct {
	OpTimeout     time.Duration // 单次数据库操作超时
	RetryAttempts int           // 瞬态失败重试次数
	RetryDelay    time.Duration // 重试间隔
}

// FanoutConfig 实时分发配置
type FanoutConfig struct {
	ChannelPrefix   string // 房间频道前缀，如 "vitals:"
	CriticalChannel string // 严重报警全局广播频道
}

// NotifierConfig 严重报警 Webhook 通知配置
type NotifierConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
	RetryCount int
}

// Config 生物传感器监测服务配置
type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	Pipeline    PipelineConfig
	Reconnect   ReconnectConfig
	Persistence PersistenceConfig
	Fanout      FanoutConfig
	Notifier    NotifierConfig

	// 各传感器类型的默认阈值表（运行时可通过管理操作更新）
	Thresholds map[models.SensorType]models.AlertThresholds

	Metrics struct {
		Addr string // Prometheus 指标监听地址，空字符串禁用
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量覆盖默认值，环境变量解析仅限于启动层）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "biosensor")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "biosensor-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.DataTopicTemplate = getEnv("MQTT_DATA_TOPIC", "devices/%s/data")
	cfg.MQTT.CommandTopicTemplate = getEnv("MQTT_COMMAND_TOPIC", "devices/%s/commands")

	cfg.Pipeline.ShardCount = getEnvInt("PIPELINE_SHARDS", 8)
	cfg.Pipeline.QueueCapacity = getEnvInt("PIPELINE_QUEUE_CAPACITY", 1024)
	cfg.Pipeline.WindowMaxSamples = getEnvInt("WINDOW_MAX_SAMPLES", 100)
	cfg.Pipeline.WindowSpan = time.Duration(getEnvInt("WINDOW_SPAN_SEC", 300)) * time.Second
	cfg.Pipeline.IdleEviction = time.Duration(getEnvInt("WINDOW_IDLE_EVICT_SEC", 1800)) * time.Second
	cfg.Pipeline.MinSamples = getEnvInt("ANOMALY_MIN_SAMPLES", 5)
	cfg.Pipeline.ZScoreThreshold = getEnvFloat("ANOMALY_Z_THRESHOLD", 3.0)
	cfg.Pipeline.QualityFloor = getEnvFloat("QUALITY_FLOOR", 0.2)
	cfg.Pipeline.MaxFutureSkew = time.Duration(getEnvInt("MAX_FUTURE_SKEW_SEC", 300)) * time.Second

	cfg.Reconnect.BaseDelay = time.Duration(getEnvInt("RECONNECT_BASE_DELAY_MS", 1000)) * time.Millisecond
	cfg.Reconnect.MaxDelay = time.Duration(getEnvInt("RECONNECT_MAX_DELAY_MS", 60000)) * time.Millisecond
	cfg.Reconnect.MaxAttempts = getEnvInt("RECONNECT_MAX_ATTEMPTS", 5)

	cfg.Persistence.OpTimeout = time.Duration(getEnvInt("PERSIST_OP_TIMEOUT_MS", 3000)) * time.Millisecond
	cfg.Persistence.RetryAttempts = getEnvInt("PERSIST_RETRY_ATTEMPTS", 3)
	cfg.Persistence.RetryDelay = time.Duration(getEnvInt("PERSIST_RETRY_DELAY_MS", 200)) * time.Millisecond

	cfg.Fanout.ChannelPrefix = getEnv("FANOUT_CHANNEL_PREFIX", "vitals:")
	cfg.Fanout.CriticalChannel = getEnv("FANOUT_CRITICAL_CHANNEL", "vitals:alerts:critical")

	cfg.Notifier.Enabled = getEnv("NOTIFIER_WEBHOOK_URL", "") != ""
	cfg.Notifier.WebhookURL = getEnv("NOTIFIER_WEBHOOK_URL", "")
	cfg.Notifier.Timeout = time.Duration(getEnvInt("NOTIFIER_TIMEOUT_MS", 5000)) * time.Millisecond
	cfg.Notifier.RetryCount = getEnvInt("NOTIFIER_RETRY_COUNT", 2)

	cfg.Thresholds = DefaultThresholds()

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// DefaultThresholds 默认的传感器阈值表
func DefaultThresholds() map[models.SensorType]models.AlertThresholds {
	return map[models.SensorType]models.AlertThresholds{
		models.SensorHeartRate: {
			CriticalLow: 40, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150,
		},
		models.SensorRespiratoryRate: {
			CriticalLow: 6, WarningLow: 10, WarningHigh: 24, CriticalHigh: 30,
		},
		models.SensorSpO2: {
			CriticalLow: 85, WarningLow: 90, WarningHigh: 100, CriticalHigh: 101,
		},
		models.SensorTemperature: {
			CriticalLow: 34.0, WarningLow: 35.5, WarningHigh: 38.0, CriticalHigh: 40.0,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
