package protocol

// 错误码
const (
	ErrCodeUnknown           = 1000
	ErrCodeInvalidMsg        = 1001
	ErrCodeRateLimit         = 1002 // 速率限制
	ErrCodeValidation        = 2001 // 弹幕内容或时间点不合法
	ErrCodeForbidden         = 2002 // 无发送权限
	ErrCodeStoreUnavailable  = 3001 // 存储不可用
	ErrCodeBridgeUnavailable = 3002 // 广播通道不可用
	ErrCodeDeliveryTimeout   = 3003 // 投递超时
	ErrCodeServerMaintenance = 5003 // 服务器维护中
)

// ErrorMessages 错误码对应的消息
var ErrorMessages = map[int]string{
	ErrCodeUnknown:           "未知错误",
	ErrCodeInvalidMsg:        "无效的消息格式",
	ErrCodeRateLimit:         "请求过于频繁",
	ErrCodeValidation:        "弹幕内容不合法",
	ErrCodeForbidden:         "您没有在该视频发送弹幕的权限",
	ErrCodeStoreUnavailable:  "弹幕服务暂时不可用",
	ErrCodeBridgeUnavailable: "广播通道暂时不可用",
	ErrCodeDeliveryTimeout:   "连接过慢，已断开",
	ErrCodeServerMaintenance: "服务器维护中",
}
