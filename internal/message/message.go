// Package message 提供一對一對話與訊息的 HTTP 介面
package message

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chat-relay/internal/chat"
	"chat-relay/internal/httputil"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// Handler 對話與訊息處理器.
type Handler struct {
	coordinator *chat.Coordinator
	visibility  *chat.Visibility
	objects     chat.ObjectStore
	voice       UploadRule
	file        UploadRule
	pageSize    int
	maxPageSize int
}

// NewHandler 創建對話處理器.
func NewHandler(coordinator *chat.Coordinator, visibility *chat.Visibility, objects chat.ObjectStore, uploads config.UploadsConfig, pagination config.PaginationLimitsConfig) *Handler {
	return &Handler{
		coordinator: coordinator,
		visibility:  visibility,
		objects:     objects,
		voice:       VoiceRule(uploads.MaxVoiceBytes, uploads.VoiceExtensions),
		file:        FileRule(uploads.MaxFileBytes, uploads.FileExtensions),
		pageSize:    pagination.DefaultPageSize,
		maxPageSize: pagination.MaxPageSize,
	}
}

// RegisterRoutes 註冊路由，rg 需已套用 JWT 中間件.
// upload 為上傳端點額外套用的中間件（例如較嚴格的速率限制）.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, send, upload gin.HandlerFunc) {
	if send == nil {
		send = passThrough
	}
	if upload == nil {
		upload = passThrough
	}

	conv := rg.Group("/conversations")
	conv.GET("", h.RecentConversations)
	conv.POST("/:user_id/messages", send, h.SendText)
	conv.POST("/:user_id/voice", upload, h.SendVoice)
	conv.POST("/:user_id/files", upload, h.SendFile)
	conv.POST("/:user_id/shares", send, h.SharePost)
	conv.GET("/:user_id/messages", h.History)
	conv.POST("/:user_id/seen", h.MarkSeen)
	conv.DELETE("/:user_id", h.ClearConversation)

	rg.DELETE("/messages/:message_id", h.DeleteMessage)
	rg.GET("/files/:id", h.ServeFile)
}

func passThrough(c *gin.Context) { c.Next() }

// SendText POST /conversations/:user_id/messages.
func (h *Handler) SendText(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	var req SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	h.send(c, counterpart, chat.Payload{Text: middleware.SanitizeInput(req.Text)})
}

// SharePost POST /conversations/:user_id/shares.
func (h *Handler) SharePost(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	var req SharePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "缺少 post_id")
		return
	}

	h.send(c, counterpart, chat.Payload{SharedPostID: req.PostID})
}

// SendVoice POST /conversations/:user_id/voice，multipart 欄位 audio 與 duration.
func (h *Handler) SendVoice(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	duration, err := parseDuration(c.PostForm(FieldDuration))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}

	obj, ok := h.store(c, h.voice)
	if !ok {
		return
	}

	h.send(c, counterpart, chat.Payload{Audio: &chat.AudioRef{
		URL:      obj.URL,
		Duration: duration,
		MimeType: obj.MimeType,
	}})
}

// SendFile POST /conversations/:user_id/files，multipart 欄位 file.
func (h *Handler) SendFile(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	obj, ok := h.store(c, h.file)
	if !ok {
		return
	}

	h.send(c, counterpart, chat.Payload{File: &chat.FileRef{
		URL:      obj.URL,
		Name:     obj.Name,
		MimeType: obj.MimeType,
		Size:     obj.Size,
	}})
}

func (h *Handler) send(c *gin.Context, counterpart string, payload chat.Payload) {
	m, err := h.coordinator.Send(c.Request.Context(), middleware.UserID(c), counterpart, payload)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.Created(c, httputil.DataCreated, m)
}

// store 驗證並寫入上傳檔案，失敗時已寫出回應.
func (h *Handler) store(c *gin.Context, rule UploadRule) (*chat.StoredObject, bool) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	fh, err := c.FormFile(rule.Field)
	if err != nil {
		httputil.BadRequest(c, fmt.Sprintf("缺少上傳檔案欄位 %s", rule.Field))
		return nil, false
	}
	if err := rule.checkHeader(fh); err != nil {
		h.rejectUpload(c, err)
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		httputil.RespondError(c, err)
		return nil, false
	}
	defer f.Close()

	mimeType, err := rule.sniff(f)
	if err != nil {
		h.rejectUpload(c, err)
		return nil, false
	}

	obj, err := h.objects.Put(ctx, chat.Upload{
		Name:     cleanFileName(fh.Filename),
		MimeType: mimeType,
		Size:     fh.Size,
		OwnerID:  userID,
		Body:     f,
	})
	if err != nil {
		httputil.RespondError(c, err)
		return nil, false
	}

	logger.Info(ctx, "檔案已上傳",
		logger.WithUserID(userID),
		logger.WithAction("upload_"+rule.Field),
		logger.WithDetails(map[string]interface{}{
			"object_id": obj.ID,
			"mime_type": obj.MimeType,
			"size":      obj.Size,
		}),
	)
	return obj, true
}

func (h *Handler) rejectUpload(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errTooLarge):
		httputil.PayloadTooLarge(c, "檔案超過大小上限")
	case chat.IsValidation(err):
		httputil.InvalidFile(c, chat.PublicMessage(err))
	default:
		httputil.RespondError(c, err)
	}
}

// History GET /conversations/:user_id/messages?limit&before.
func (h *Handler) History(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	limit, err := parseLimit(c.Query(QueryLimit), h.pageSize, h.maxPageSize)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	before, err := parseBefore(c.Query(QueryBefore))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}

	page, err := h.visibility.VisibleHistory(c.Request.Context(), middleware.UserID(c), counterpart, chat.PageRequest{
		Limit:    limit,
		Before:   before,
		BeforeID: strings.TrimSpace(c.Query(QueryBeforeID)),
	})
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, httputil.DataRetrieved, page)
}

// RecentConversations GET /conversations.
func (h *Handler) RecentConversations(c *gin.Context) {
	summaries, err := h.visibility.RecentConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	if summaries == nil {
		summaries = []chat.ConversationSummary{}
	}
	httputil.OK(c, httputil.DataRetrieved, summaries)
}

// MarkSeen POST /conversations/:user_id/seen.
func (h *Handler) MarkSeen(c *gin.Context) {
	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}

	ids, err := h.coordinator.MarkSeen(c.Request.Context(), middleware.UserID(c), counterpart)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.OK(c, httputil.DataUpdated, SeenResponse{MessageIDs: ids})
}

// ClearConversation DELETE /conversations/:user_id?mode=me|everyone.
func (h *Handler) ClearConversation(c *gin.Context) {
	const op = "message.ClearConversation"

	counterpart := c.Param("user_id")
	if err := validateCounterpart(counterpart); err != nil {
		httputil.RespondError(c, err)
		return
	}
	scope, err := chat.ParseScope(op, c.Query(QueryMode))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}

	result, err := h.coordinator.ClearConversation(c.Request.Context(), middleware.UserID(c), counterpart, scope)
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, httputil.DataDeleted, ClearResponse{
		Scope:   string(result.Scope),
		Hidden:  result.Hidden,
		Deleted: result.Deleted,
	})
}

// DeleteMessage DELETE /messages/:message_id?mode=me|everyone.
func (h *Handler) DeleteMessage(c *gin.Context) {
	const op = "message.DeleteMessage"

	messageID := strings.TrimSpace(c.Param("message_id"))
	if messageID == "" {
		httputil.BadRequest(c, "缺少訊息 ID")
		return
	}
	scope, err := chat.ParseScope(op, c.Query(QueryMode))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}

	if err := h.coordinator.Delete(c.Request.Context(), middleware.UserID(c), messageID, scope); err != nil {
		httputil.RespondError(c, err)
		return
	}
	httputil.OK(c, httputil.DataDeleted, gin.H{"message_id": messageID, "scope": scope})
}

// ServeFile GET /files/:id，串流已上傳的物件.
func (h *Handler) ServeFile(c *gin.Context) {
	rc, obj, err := h.objects.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, err)
		return
	}
	defer rc.Close()

	contentType := obj.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, obj.Size, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", obj.Name),
		"Cache-Control":       "private, max-age=86400",
	})
}
