package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/multichat/internal/ai"
	"github.com/suPer8Hu/multichat/internal/chat"
	"github.com/suPer8Hu/multichat/internal/common"
	"github.com/suPer8Hu/multichat/internal/credits"
	"gorm.io/gorm"
)

// chatLockTTL bounds how long a crashed request can block the user.
const chatLockTTL = 3 * time.Minute

type chatReq struct {
	ChatID             string                   `json:"chatId"`
	Message            string                   `json:"message"`
	ModelName          string                   `json:"modelName"`
	Stream             bool                     `json:"stream"`
	CorrelationID      string                   `json:"correlationId"`
	BrainstormSettings *chat.BrainstormSettings `json:"brainstormSettings"`
}

// chatError maps orchestrator errors to the http status, business code and message.
func chatError(err error) (int, int, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest, 10002, err.Error()
	case ai.IsValidationError(err):
		return http.StatusBadRequest, 10005, err.Error()
	case errors.Is(err, credits.ErrInsufficientCredits):
		return http.StatusForbidden, 40301, "insufficient credits"
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, 40401, "chat not found"
	default:
		return http.StatusInternalServerError, 50001, "failed to generate response"
	}
}

func (h *Handler) ChatWithGPT(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	release, locked, err := h.Redis.AcquireChatLock(ctx, uid, chatLockTTL)
	if err != nil {
		// the lock only guards against double debits, keep serving without it
		log.Printf("[ChatWithGPT] chat lock failed uid=%d err=%v", uid, err)
		locked = true
	}
	if !locked {
		common.Fail(c, http.StatusTooManyRequests, 42901, "another chat request is in progress")
		return
	}
	defer release()
	defer func() {
		if err := h.Redis.InvalidateCredits(ctx, uid); err != nil {
			log.Printf("[ChatWithGPT] invalidate credits failed uid=%d err=%v", uid, err)
		}
	}()

	in := chat.SendInput{
		UserID:        uid,
		ChatID:        req.ChatID,
		Message:       req.Message,
		Model:         req.ModelName,
		CorrelationID: req.CorrelationID,
		Brainstorm:    req.BrainstormSettings,
	}

	if req.Stream {
		h.chatStream(c, in)
		return
	}

	res, err := h.ChatSvc.Chat(ctx, in, nil)
	if err != nil {
		status, code, msg := chatError(err)
		if status >= http.StatusInternalServerError {
			log.Printf("[ChatWithGPT] chat failed uid=%d chat_id=%s model=%s err=%v", uid, req.ChatID, req.ModelName, err)
		}
		common.Fail(c, status, code, msg)
		return
	}
	c.JSON(http.StatusOK, chatResultBody(res))
}

func chatResultBody(res *chat.ChatResult) gin.H {
	body := gin.H{
		"success":           true,
		"userMessage":       res.UserMessage,
		"aiMessage":         res.AIMessage,
		"model":             res.Model,
		"tokensUsed":        res.TokensUsed,
		"creditsDeducted":   res.CreditsDeducted,
		"credits_remaining": res.CreditsRemaining,
	}
	if len(res.Iterations) > 0 {
		body["iterations"] = res.Iterations
	}
	return body
}

// ndjsonWriter writes one {event, data} object per line and flushes it.
// Headers are committed on the first event so errors raised before any
// output can still use a proper status code.
type ndjsonWriter struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func (w *ndjsonWriter) start() {
	if w.started {
		return
	}
	w.started = true
	w.c.Header("Content-Type", "text/event-stream")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("Connection", "keep-alive")
	w.c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	w.c.Status(http.StatusOK)
}

func (w *ndjsonWriter) write(event string, data any) {
	w.start()
	b, err := json.Marshal(gin.H{"event": event, "data": data})
	if err != nil {
		// last-resort: keep the framing intact
		b = []byte(`{"event":"error","data":{"message":"json marshal failed"}}`)
	}
	b = append(b, '\n')
	if _, err := w.c.Writer.Write(b); err != nil {
		return
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

func (h *Handler) chatStream(c *gin.Context, in chat.SendInput) {
	w := &ndjsonWriter{c: c}
	if f, ok := c.Writer.(http.Flusher); ok {
		w.flusher = f
	}

	emit := func(event string, data map[string]any) {
		w.write(event, data)
	}

	res, err := h.ChatSvc.Chat(c.Request.Context(), in, emit)
	if err != nil {
		status, code, msg := chatError(err)
		if status >= http.StatusInternalServerError {
			log.Printf("[ChatWithGPT] stream failed uid=%d chat_id=%s model=%s err=%v", in.UserID, in.ChatID, in.Model, err)
		}
		if !w.started {
			common.Fail(c, status, code, msg)
			return
		}
		w.write(chat.EventError, gin.H{"code": code, "message": msg})
		return
	}

	body := chatResultBody(res)
	body["state"] = "done"
	w.write(chat.EventStatus, body)
}

type saveMessageReq struct {
	ChatID  string `json:"chatId"`
	Message struct {
		UserInput     string     `json:"userInput"`
		AIResponse    string     `json:"aiResponse"`
		Timestamp     *time.Time `json:"timestamp"`
		Model         string     `json:"model"`
		CorrelationID string     `json:"correlationId"`
	} `json:"message"`
	ChatMetadata *struct {
		Title              string                   `json:"title"`
		IsBrainstorm       bool                     `json:"isBrainstorm"`
		BrainstormSettings *chat.BrainstormSettings `json:"brainstormSettings"`
	} `json:"chatMetadata"`
}

func (h *Handler) SaveMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req saveMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	in := chat.SaveMessageInput{
		UserInput:     req.Message.UserInput,
		AIResponse:    req.Message.AIResponse,
		Model:         req.Message.Model,
		CorrelationID: req.Message.CorrelationID,
	}
	if req.Message.Timestamp != nil {
		in.Timestamp = *req.Message.Timestamp
	}
	var meta *chat.ChatMetadata
	if req.ChatMetadata != nil {
		meta = &chat.ChatMetadata{
			Title:              req.ChatMetadata.Title,
			IsBrainstorm:       req.ChatMetadata.IsBrainstorm,
			BrainstormSettings: req.ChatMetadata.BrainstormSettings,
		}
	}

	rows, err := h.ChatSvc.SaveMessage(c.Request.Context(), uid, req.ChatID, in, meta)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidInput):
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
		default:
			log.Printf("[SaveMessage] failed uid=%d chat_id=%s err=%v", uid, req.ChatID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "failed to save message")
		}
		return
	}
	common.OK(c, gin.H{"chatId": req.ChatID, "messages": rows})
}

type saveChatReq struct {
	ChatID             string                   `json:"chatId"`
	Title              string                   `json:"title"`
	IsBrainstorm       bool                     `json:"isBrainstorm"`
	BrainstormSettings *chat.BrainstormSettings `json:"brainstormSettings"`
}

func (h *Handler) SaveChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req saveChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.SaveChat(c.Request.Context(), uid, chat.SaveChatInput{
		ChatID:             req.ChatID,
		Title:              req.Title,
		IsBrainstorm:       req.IsBrainstorm,
		BrainstormSettings: req.BrainstormSettings,
	})
	if err != nil {
		if errors.Is(err, chat.ErrInvalidInput) {
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		log.Printf("[SaveChat] failed uid=%d chat_id=%s err=%v", uid, req.ChatID, err)
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to save chat")
		return
	}
	common.OK(c, gin.H{"chat": sess})
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chats, err := h.ChatSvc.ListChats(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Param("chat_id")
	sess, msgs, err := h.ChatSvc.GetChat(c.Request.Context(), uid, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to list messages")
		return
	}
	common.OK(c, gin.H{"chat": sess, "messages": msgs})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Param("chat_id")
	if err := h.ChatSvc.DeleteChat(c.Request.Context(), uid, chatID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "chat not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50006, "failed to delete chat")
		return
	}
	common.OK(c, gin.H{"chatId": chatID, "deleted": true})
}

func (h *Handler) Credits(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	ctx := c.Request.Context()
	if bal, found, err := h.Redis.CachedCredits(ctx, uid); err == nil && found {
		common.OK(c, gin.H{"credits": bal, "cached": true})
		return
	}

	bal, err := h.Ledger.Balance(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if err := h.Redis.SetCachedCredits(ctx, uid, bal); err != nil {
		log.Printf("[Credits] cache write failed uid=%d err=%v", uid, err)
	}
	common.OK(c, gin.H{"credits": bal, "cached": false})
}
