package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Store    StoreConfig    `yaml:"store"`
	Danmaku  DanmakuConfig  `yaml:"danmaku"`
	Playback PlaybackConfig `yaml:"playback"`
	Security SecurityConfig `yaml:"security"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	MaxConnections  int    `yaml:"max_connections"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // 优雅关闭超时（秒）
	NodeID          string `yaml:"node_id"`          // 进程标识，为空时自动生成
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig 弹幕存储配置
type StoreConfig struct {
	Driver string `yaml:"driver"` // redis / sqlite / postgres
	DSN    string `yaml:"dsn"`    // sqlite 文件路径或 postgres 连接串
}

// DanmakuConfig 弹幕投递配置
type DanmakuConfig struct {
	MaxTextLength       int     `yaml:"max_text_length"`       // 弹幕最大字符数
	MaxVideoDuration    float64 `yaml:"max_video_duration"`    // 未知视频的时长上限（秒）
	DeliveryTimeout     int     `yaml:"delivery_timeout"`      // 单次投递超时（毫秒）
	MaxDeliveryFailures int     `yaml:"max_delivery_failures"` // 连续超时多少次后踢出连接
	PublishQueueSize    int     `yaml:"publish_queue_size"`    // 广播发布队列长度
	PublishTimeout      int     `yaml:"publish_timeout"`       // 广播发布超时（毫秒）
	RoomQueueSize       int     `yaml:"room_queue_size"`       // 每个房间的订阅缓冲
	MaxHistoryWindow    float64 `yaml:"max_history_window"`    // 单次历史查询最大跨度（秒）
	AllowGuestPost      bool    `yaml:"allow_guest_post"`      // 是否允许游客发送弹幕
}

// PlaybackConfig 客户端同步配置
type PlaybackConfig struct {
	DisplayDuration float64 `yaml:"display_duration"` // 单条弹幕在屏幕上停留时长（秒）
	SeekThreshold   float64 `yaml:"seek_threshold"`   // 超过该跳变视为 seek（秒）
	LaneCount       int     `yaml:"lane_count"`       // 弹道数量
	LaneLoadFactor  float64 `yaml:"lane_load_factor"` // 活跃弹幕数 >= 系数 × 弹道数 时进入高负载
	PrefetchWindow  float64 `yaml:"prefetch_window"`  // seek 后预取历史的前向窗口（秒）
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AllowedOrigins []string           `yaml:"allowed_origins"`
	IPWhitelist    []string           `yaml:"ip_whitelist"` // 非空时只放行名单内 IP
	IPBlacklist    []string           `yaml:"ip_blacklist"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	MessageLimit   MessageLimitConfig `yaml:"message_limit"`
	DanmakuLimit   DanmakuLimitConfig `yaml:"danmaku_limit"`
	CallbackSecret string             `yaml:"callback_secret"` // 打分回调的共享密钥
}

// RateLimitConfig 连接速率限制
type RateLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	BanDuration  int `yaml:"ban_duration"` // 封禁时长（秒）
}

// MessageLimitConfig 消息速率限制
type MessageLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
}

// DanmakuLimitConfig 发弹幕速率限制
type DanmakuLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	Cooldown     int `yaml:"cooldown"` // 冷却时长（秒）
}

// EnrichConfig 弹幕打分配置
type EnrichConfig struct {
	Queue      string `yaml:"queue"`       // Redis 任务队列 key
	ScorerURL  string `yaml:"scorer_url"`  // 外部打分服务地址，为空则只入队等待回调
	Workers    int    `yaml:"workers"`     // 拉取任务的协程数
	ScoreLimit int    `yaml:"score_limit"` // 打分请求超时（秒）
}

// LogConfig 日志配置
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ShutdownTimeoutDuration 返回优雅关闭超时
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// DeliveryTimeoutDuration 返回单次投递超时
func (c *DanmakuConfig) DeliveryTimeoutDuration() time.Duration {
	return time.Duration(c.DeliveryTimeout) * time.Millisecond
}

// PublishTimeoutDuration 返回广播发布超时
func (c *DanmakuConfig) PublishTimeoutDuration() time.Duration {
	return time.Duration(c.PublishTimeout) * time.Millisecond
}

// DisplayDurationTime 返回弹幕停留时长
func (c *PlaybackConfig) DisplayDurationTime() time.Duration {
	return time.Duration(c.DisplayDuration * float64(time.Second))
}

// BanDurationTime 返回封禁时长
func (c *RateLimitConfig) BanDurationTime() time.Duration {
	return time.Duration(c.BanDuration) * time.Second
}

// CooldownDuration 返回发弹幕冷却时长
func (c *DanmakuLimitConfig) CooldownDuration() time.Duration {
	return time.Duration(c.Cooldown) * time.Second
}

// ScoreTimeoutDuration 返回打分请求超时
func (c *EnrichConfig) ScoreTimeoutDuration() time.Duration {
	return time.Duration(c.ScoreLimit) * time.Second
}

// Load 加载配置文件，随后应用 .env 与环境变量覆盖
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// .env 文件不存在时忽略
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            1780,
			MaxConnections:  10000,
			ShutdownTimeout: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Store: StoreConfig{
			Driver: "redis",
		},
		Danmaku: DanmakuConfig{
			MaxTextLength:       100,
			MaxVideoDuration:    6 * 3600,
			DeliveryTimeout:     500,
			MaxDeliveryFailures: 3,
			PublishQueueSize:    1024,
			PublishTimeout:      2000,
			RoomQueueSize:       256,
			MaxHistoryWindow:    600,
		},
		Playback: PlaybackConfig{
			DisplayDuration: 10,
			SeekThreshold:   1.5,
			LaneCount:       10,
			LaneLoadFactor:  2,
			PrefetchWindow:  60,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{
				MaxPerSecond: 10,
				MaxPerMinute: 60,
				BanDuration:  60,
			},
			MessageLimit: MessageLimitConfig{
				MaxPerSecond: 20,
			},
			DanmakuLimit: DanmakuLimitConfig{
				MaxPerSecond: 2,
				MaxPerMinute: 30,
				Cooldown:     5,
			},
		},
		Enrich: EnrichConfig{
			Queue:      "danmaku:enrich:jobs",
			Workers:    2,
			ScoreLimit: 5,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// applyDefaults 补齐被配置文件显式置零的关键项
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.MaxConnections <= 0 {
		cfg.Server.MaxConnections = def.Server.MaxConnections
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Danmaku.MaxTextLength <= 0 {
		cfg.Danmaku.MaxTextLength = def.Danmaku.MaxTextLength
	}
	if cfg.Danmaku.DeliveryTimeout <= 0 {
		cfg.Danmaku.DeliveryTimeout = def.Danmaku.DeliveryTimeout
	}
	if cfg.Danmaku.MaxDeliveryFailures <= 0 {
		cfg.Danmaku.MaxDeliveryFailures = def.Danmaku.MaxDeliveryFailures
	}
	if cfg.Playback.LaneCount <= 0 {
		cfg.Playback.LaneCount = def.Playback.LaneCount
	}
	if cfg.Playback.DisplayDuration <= 0 {
		cfg.Playback.DisplayDuration = def.Playback.DisplayDuration
	}
	if cfg.Playback.SeekThreshold <= 0 {
		cfg.Playback.SeekThreshold = def.Playback.SeekThreshold
	}
	if cfg.Playback.LaneLoadFactor <= 0 {
		cfg.Playback.LaneLoadFactor = def.Playback.LaneLoadFactor
	}
}

// applyEnv 使用 DANMAKU_* 环境变量覆盖配置
func applyEnv(cfg *Config) {
	if v := os.Getenv("DANMAKU_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := getEnvInt("DANMAKU_PORT"); v > 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DANMAKU_NODE_ID"); v != "" {
		cfg.Server.NodeID = v
	}
	if v := os.Getenv("DANMAKU_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DANMAKU_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DANMAKU_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DANMAKU_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DANMAKU_SCORER_URL"); v != "" {
		cfg.Enrich.ScorerURL = v
	}
	if v := os.Getenv("DANMAKU_CALLBACK_SECRET"); v != "" {
		cfg.Security.CallbackSecret = v
	}
	if v := os.Getenv("DANMAKU_ALLOWED_ORIGINS"); v != "" {
		cfg.Security.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DANMAKU_IP_WHITELIST"); v != "" {
		cfg.Security.IPWhitelist = splitList(v)
	}
	if v := os.Getenv("DANMAKU_IP_BLACKLIST"); v != "" {
		cfg.Security.IPBlacklist = splitList(v)
	}
	if v := os.Getenv("DANMAKU_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
