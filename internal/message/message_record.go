package message

// SendTextRequest 文字訊息請求.
type SendTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// SharePostRequest 分享貼文請求.
type SharePostRequest struct {
	PostID string `json:"post_id" binding:"required"`
}

// multipart 欄位名稱.
const (
	FieldAudio    = "audio"
	FieldDuration = "duration"
	FieldFile     = "file"
)

// 查詢參數.
const (
	QueryLimit    = "limit"
	QueryBefore   = "before"
	QueryBeforeID = "before_id"
	QueryMode     = "mode"
)

// ClearResponse 清除對話回應內容.
type ClearResponse struct {
	Scope   string   `json:"scope"`
	Hidden  int64    `json:"hidden"`
	Deleted []string `json:"deleted,omitempty"`
}

// SeenResponse 已讀回應內容.
type SeenResponse struct {
	MessageIDs []string `json:"message_ids"`
}
