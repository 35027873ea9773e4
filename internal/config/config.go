package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CalendarSource 一个 ICS 日历订阅源
type CalendarSource struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Config 日历唤醒服务配置
type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      byte   `yaml:"qos"`
	} `yaml:"mqtt"`

	// 外部唤醒网关（实际下发系统级精确唤醒的守护进程）
	Scheduler struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"` // 单次调用超时，超时按该条匹配失败处理
	} `yaml:"scheduler"`

	Calendar struct {
		Sources        []CalendarSource `yaml:"sources"`
		LookaheadHours int              `yaml:"lookahead_hours"` // 事件拉取窗口，默认 48 小时
		FetchTimeout   int              `yaml:"fetch_timeout_seconds"`
	} `yaml:"calendar"`

	Reconcile struct {
		IntervalMinutes int    `yaml:"interval_minutes"`   // 周期性刷新间隔
		AllDayAlarmTime string `yaml:"all_day_alarm_time"` // 全天事件默认报警时刻 "HH:MM"
		AllDayDayOffset int    `yaml:"all_day_day_offset"` // 相对事件日期的天偏移，-1 = 前一天
		RetentionHours  int    `yaml:"retention_hours"`    // 过期台账保留时长，GC 扫描用
		TriggerStream   string `yaml:"trigger_stream"`     // Redis Stream 触发总线
		DismissTopic    string `yaml:"dismiss_topic"`      // MQTT 驳回信号主题
		TimezoneTopic   string `yaml:"timezone_topic"`     // MQTT 时区变更主题
		DayTrackPrefix  string `yaml:"daytrack_prefix"`    // 按日触发状态的 Redis 键前缀
		Timezone        string `yaml:"timezone"`           // 设备时区，空 = 进程本地时区
	} `yaml:"reconcile"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置：先取默认值，再叠加可选的 YAML 配置文件，最后用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// 文件不存在按纯环境变量配置处理
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "calwake"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "calwake"
	cfg.MQTT.QoS = 1

	cfg.Scheduler.BaseURL = "http://localhost:8087"
	cfg.Scheduler.TimeoutSeconds = 10

	cfg.Calendar.LookaheadHours = 48
	cfg.Calendar.FetchTimeout = 30

	cfg.Reconcile.IntervalMinutes = 15
	cfg.Reconcile.AllDayAlarmTime = "21:00"
	cfg.Reconcile.AllDayDayOffset = -1
	cfg.Reconcile.RetentionHours = 48
	cfg.Reconcile.TriggerStream = "calwake:triggers"
	cfg.Reconcile.DismissTopic = "calwake/dismissed"
	cfg.Reconcile.TimezoneTopic = "calwake/timezone"
	cfg.Reconcile.DayTrackPrefix = "calwake:daytrack:"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Scheduler.BaseURL = getEnv("SCHEDULER_BASE_URL", cfg.Scheduler.BaseURL)
	cfg.Scheduler.TimeoutSeconds = getEnvInt("SCHEDULER_TIMEOUT_SECONDS", cfg.Scheduler.TimeoutSeconds)

	cfg.Calendar.LookaheadHours = getEnvInt("CALENDAR_LOOKAHEAD_HOURS", cfg.Calendar.LookaheadHours)
	cfg.Calendar.FetchTimeout = getEnvInt("CALENDAR_FETCH_TIMEOUT_SECONDS", cfg.Calendar.FetchTimeout)

	cfg.Reconcile.IntervalMinutes = getEnvInt("RECONCILE_INTERVAL_MINUTES", cfg.Reconcile.IntervalMinutes)
	cfg.Reconcile.AllDayAlarmTime = getEnv("ALL_DAY_ALARM_TIME", cfg.Reconcile.AllDayAlarmTime)
	cfg.Reconcile.Timezone = getEnv("DEVICE_TIMEZONE", cfg.Reconcile.Timezone)
	cfg.Reconcile.RetentionHours = getEnvInt("RETENTION_HOURS", cfg.Reconcile.RetentionHours)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
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
