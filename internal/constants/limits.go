package constants

// 即時通道默認值（可被配置覆蓋）
const (
	DefaultSendBuffer       = 256
	DefaultMaxFrameBytes    = 64 << 10 // 64KB
	DefaultPongWaitSeconds  = 60
	DefaultWriteWaitSeconds = 10
	DefaultEventsPerSecond  = 10
	DefaultEventBurst       = 20
)

// 分頁相關常數
const (
	DefaultHistoryPageSize      = 50
	DefaultMaxPageSize          = 200
	DefaultNotificationPageSize = 50
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 5000
)

// 上傳相關常數
const (
	DefaultMaxVoiceBytes    = 10 << 20 // 10MB
	DefaultMaxFileBytes     = 25 << 20 // 25MB
	DefaultGridFSBucket     = "uploads"
	DefaultPublicPathPrefix = "/api/v1/files/"
)

// 推播與保留排程默認值
const (
	DefaultPushTTLSeconds       = 60
	DefaultRetentionCron        = "0 3 * * *" // 每日 03:00
	DefaultReadNotificationDays = 30
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 128
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)
