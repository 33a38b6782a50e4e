package realtime

import (
	"encoding/json"
	"fmt"

	"chat-relay/internal/chat"
)

// 用戶端送出的事件
const (
	InboundSendMessage = "send_message"
	InboundSharePost   = "share_post"
	InboundTyping      = "typing"
	InboundStopTyping  = "stop_typing"
	InboundSeenChat    = "seen_chat"
)

// Envelope 所有 WebSocket frame 的外層格式
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SendMessageRequest send_message 內容。
// 語音與檔案只能經由上傳 API 取得儲存參照，frame 中帶 audio / file 一律拒絕。
type SendMessageRequest struct {
	To           string          `json:"to"`
	Text         string          `json:"text,omitempty"`
	SharedPostID string          `json:"shared_post_id,omitempty"`
	Audio        json.RawMessage `json:"audio,omitempty"`
	File         json.RawMessage `json:"file,omitempty"`
}

// carriesUpload frame 是否自帶媒體參照
func (r *SendMessageRequest) carriesUpload() bool {
	return len(r.Audio) > 0 || len(r.File) > 0
}

// SharePostRequest share_post 內容
type SharePostRequest struct {
	To     string `json:"to"`
	PostID string `json:"post_id"`
}

// TypingRequest typing / stop_typing 內容
type TypingRequest struct {
	To string `json:"to"`
}

// SeenRequest seen_chat 內容，from 為對話對象
type SeenRequest struct {
	From string `json:"from"`
}

// ErrorNotice 回給發送者的錯誤事件
type ErrorNotice struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEnvelope 解析用戶端 frame
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("無效的 frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame 缺少 type")
	}
	return &env, nil
}

// decodeData 解析 envelope 的 data
func decodeData(env *Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return chat.NewValidationError("realtime."+env.Type, "缺少事件內容")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return chat.NewValidationError("realtime."+env.Type, "事件內容格式錯誤")
	}
	return nil
}

// encodeEvent 將事件序列化為 frame
func encodeEvent(event chat.Event) ([]byte, error) {
	return json.Marshal(event)
}
