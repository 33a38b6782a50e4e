package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chat-relay/internal/constants"

	"github.com/adhocore/gronx"
	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Push      PushConfig      `mapstructure:"push"`
	Retention RetentionConfig `mapstructure:"retention"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	UseHTTPS       bool     `mapstructure:"use_https"`
	CertPath       string   `mapstructure:"cert_path"`
	KeyPath        string   `mapstructure:"key_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GRPCConfig gRPC 配置.
type GRPCConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Host          string   `mapstructure:"host"`
	Port          string   `mapstructure:"port"`
	ServiceTokens []string `mapstructure:"service_tokens"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	Level             string `mapstructure:"level"`               // debug / info / warning / error.
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Encryption     EncryptionConfig     `mapstructure:"encryption"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// EncryptionConfig 訊息落地加密配置.
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	MasterKey string `mapstructure:"master_key"` // base64, 32 bytes
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RealtimeConfig WebSocket 即時通道配置.
type RealtimeConfig struct {
	SendBuffer          int      `mapstructure:"send_buffer"`
	MaxMessageBytes     int64    `mapstructure:"max_message_bytes"`
	PongWaitSeconds     int      `mapstructure:"pong_wait_seconds"`
	WriteWaitSeconds    int      `mapstructure:"write_wait_seconds"`
	EventsPerSecond     float64  `mapstructure:"events_per_second"`
	EventBurst          int      `mapstructure:"event_burst"`
	MaxConnectionsPerIP int      `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections int      `mapstructure:"max_total_connections"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
}

// PushConfig Web Push 配置.
type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
}

// RetentionConfig 通知保留策略.
type RetentionConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Cron                 string `mapstructure:"cron"`
	ReadNotificationDays int    `mapstructure:"read_notification_days"`
}

// UploadsConfig 上傳配置.
type UploadsConfig struct {
	MaxVoiceBytes    int64    `mapstructure:"max_voice_bytes"`
	MaxFileBytes     int64    `mapstructure:"max_file_bytes"`
	VoiceExtensions  []string `mapstructure:"voice_extensions"`
	FileExtensions   []string `mapstructure:"file_extensions"`
	GridFSBucket     string   `mapstructure:"gridfs_bucket"`
	PublicPathPrefix string   `mapstructure:"public_path_prefix"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize        int64 `mapstructure:"max_body_size"`
	MaxMultipartMemory int64 `mapstructure:"max_multipart_memory"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	MessagesPerMin   int  `mapstructure:"messages_per_minute"`
	UploadsPerMin    int  `mapstructure:"uploads_per_minute"`
	CleanupInterval  int  `mapstructure:"cleanup_interval_minutes"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize      int `mapstructure:"default_page_size"`
	MaxPageSize          int `mapstructure:"max_page_size"`
	NotificationPageSize int `mapstructure:"notification_page_size"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	v := viper.New()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 環境變數覆寫，例如 SECURITY_AUTHENTICATION_JWT_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	ApplyDefaults(config)

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	return nil
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// ApplyDefaults 補上 YAML 未提供的預設值，測試可直接對手動建立的設定呼叫
func ApplyDefaults(cfg *Config) {
	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = constants.DefaultSendBuffer
	}
	if cfg.Realtime.MaxMessageBytes <= 0 {
		cfg.Realtime.MaxMessageBytes = constants.DefaultMaxFrameBytes
	}
	if cfg.Realtime.PongWaitSeconds <= 0 {
		cfg.Realtime.PongWaitSeconds = constants.DefaultPongWaitSeconds
	}
	if cfg.Realtime.WriteWaitSeconds <= 0 {
		cfg.Realtime.WriteWaitSeconds = constants.DefaultWriteWaitSeconds
	}
	if cfg.Realtime.EventsPerSecond <= 0 {
		cfg.Realtime.EventsPerSecond = constants.DefaultEventsPerSecond
	}
	if cfg.Realtime.EventBurst <= 0 {
		cfg.Realtime.EventBurst = constants.DefaultEventBurst
	}
	if cfg.Push.TTLSeconds <= 0 {
		cfg.Push.TTLSeconds = constants.DefaultPushTTLSeconds
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = constants.DefaultRetentionCron
	}
	if cfg.Retention.ReadNotificationDays <= 0 {
		cfg.Retention.ReadNotificationDays = constants.DefaultReadNotificationDays
	}
	if cfg.Uploads.GridFSBucket == "" {
		cfg.Uploads.GridFSBucket = constants.DefaultGridFSBucket
	}
	if cfg.Uploads.PublicPathPrefix == "" {
		cfg.Uploads.PublicPathPrefix = constants.DefaultPublicPathPrefix
	}
	if len(cfg.Uploads.VoiceExtensions) == 0 {
		cfg.Uploads.VoiceExtensions = []string{"mp3", "wav", "webm", "ogg"}
	}
	if len(cfg.Uploads.FileExtensions) == 0 {
		cfg.Uploads.FileExtensions = []string{"jpg", "jpeg", "png", "pdf", "docx", "zip", "mp4"}
	}
	if cfg.Limits.Pagination.NotificationPageSize <= 0 {
		cfg.Limits.Pagination.NotificationPageSize = constants.DefaultNotificationPageSize
	}
	if cfg.Limits.Pagination.DefaultPageSize <= 0 {
		cfg.Limits.Pagination.DefaultPageSize = constants.DefaultHistoryPageSize
	}
	if cfg.Limits.Pagination.MaxPageSize <= 0 {
		cfg.Limits.Pagination.MaxPageSize = constants.DefaultMaxPageSize
	}
	if cfg.Limits.Message.MaxLength <= 0 {
		cfg.Limits.Message.MaxLength = constants.DefaultMaxMessageLength
	}
	if cfg.Uploads.MaxVoiceBytes <= 0 {
		cfg.Uploads.MaxVoiceBytes = constants.DefaultMaxVoiceBytes
	}
	if cfg.Uploads.MaxFileBytes <= 0 {
		cfg.Uploads.MaxFileBytes = constants.DefaultMaxFileBytes
	}
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("伺服器主機不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	if cfg.Database.Mongo.URL == "" {
		return fmt.Errorf("MongoDB URL 不能為空")
	}
	if cfg.Database.Mongo.Database == "" {
		return fmt.Errorf("MongoDB 資料庫名稱不能為空")
	}
	if cfg.Database.Mongo.MaxPoolSize == 0 {
		return fmt.Errorf("MongoDB 最大連接池大小必須大於 0")
	}
	if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
		return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
	}

	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}

	if cfg.Security.Authentication.JWTSecret == "" {
		return fmt.Errorf("JWT secret 不能為空")
	}
	if cfg.Security.Encryption.Enabled && cfg.Security.Encryption.MasterKey == "" {
		return fmt.Errorf("啟用加密時 master_key 不能為空")
	}

	if cfg.Push.Enabled && (cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("啟用推播時 VAPID 金鑰不能為空")
	}

	if cfg.Retention.Enabled && cfg.Retention.Cron != "" && !gronx.IsValid(cfg.Retention.Cron) {
		return fmt.Errorf("retention cron 表達式無效: %s", cfg.Retention.Cron)
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetGRPCAddr 取得 gRPC 監聽地址
func GetGRPCAddr() string {
	if config != nil && config.GRPC.Port != "" {
		return fmt.Sprintf("%s:%s", config.GRPC.Host, config.GRPC.Port)
	}
	return "localhost:8081"
}

// GetMongoURL 取得 MongoDB 連接字串
func GetMongoURL() string {
	if config != nil {
		return config.Database.Mongo.URL
	}
	return ""
}
