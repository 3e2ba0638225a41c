package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/middleware"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/respond"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/service"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/utils/textutil"
)

// MessageService 消息服务契约
type MessageService interface {
	Send(ctx context.Context, req service.SendRequest) (*service.SendResult, error)
	SendStream(ctx context.Context, req service.SendRequest, w io.Writer) (string, error)
	History(ctx context.Context, sessionID string, limit int) ([]service.HistoryEntry, error)
	ClearHistory(ctx context.Context, sessionID string) (int64, error)
}

// MessagesHandler /api/messages 路由
type MessagesHandler struct {
	svc    MessageService
	logger *slog.Logger
}

func NewMessagesHandler(svc MessageService, logger *slog.Logger) *MessagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagesHandler{svc: svc, logger: logger}
}

// MessageRequest 发送消息请求体
type MessageRequest struct {
	Message    string  `json:"message"`
	SessionID  *string `json:"session_id"`
	UseHistory *bool   `json:"use_history"`
	UseTools   *bool   `json:"use_tools"`
}

func (m MessageRequest) validate() error {
	n := utf8.RuneCountInString(m.Message)
	if n < 1 || n > textutil.MaxMessageLength {
		return validationError("message deve ter entre 1 e %d caracteres", textutil.MaxMessageLength)
	}
	return nil
}

func (m MessageRequest) toService(r *http.Request) service.SendRequest {
	req := service.SendRequest{
		Message:    m.Message,
		UseHistory: true,
		UseTools:   true,
	}
	if m.SessionID != nil {
		req.SessionID = strings.TrimSpace(*m.SessionID)
	}
	if m.UseHistory != nil {
		req.UseHistory = *m.UseHistory
	}
	if m.UseTools != nil {
		req.UseTools = *m.UseTools
	}
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		id := user.ID
		req.UserID = &id
	}
	return req
}

// MessageResponse 非流式回复
type MessageResponse struct {
	Success   bool             `json:"success"`
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
	Metadata  service.Metadata `json:"metadata"`
}

// HistoryResponse 会话历史
type HistoryResponse struct {
	Success       bool                   `json:"success"`
	SessionID     string                 `json:"session_id"`
	Conversations []service.HistoryEntry `json:"conversations"`
	Total         int                    `json:"total"`
}

func (h *MessagesHandler) readRequest(w http.ResponseWriter, r *http.Request) (*MessageRequest, bool) {
	var body MessageRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err := body.validate(); err != nil {
		respond.Error(w, bodyStatus(err), err.Error())
		return nil, false
	}
	return &body, true
}

// Send POST /api/messages/send
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readRequest(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Send(r.Context(), body.toService(r))
	if err != nil {
		h.completionError(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, MessageResponse{
		Success:   true,
		SessionID: result.SessionID,
		Message:   result.Message,
		Timestamp: result.Timestamp.Format(time.RFC3339Nano),
		Metadata:  result.Metadata,
	})
}

// SendStream POST /api/messages/send-stream
// 片段以 text/plain 逐个刷新；会话 ID 通过 X-Session-ID 头返回。
func (h *MessagesHandler) SendStream(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readRequest(w, r)
	if !ok {
		return
	}

	req := body.toService(r)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	fw := &flushWriter{w: w, header: func() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Session-ID", req.SessionID)
		w.WriteHeader(http.StatusOK)
	}}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}

	_, err := h.svc.SendStream(r.Context(), req, fw)
	if err == nil {
		fw.ensureHeader()
		return
	}
	if fw.started {
		// 已开始写响应体，只能记录
		h.logger.Warn("stream ended with error",
			slog.String("session_id", req.SessionID),
			slog.String("err", err.Error()),
		)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.completionError(w, err)
}

// History GET /api/messages/history/{session_id}
func (h *MessagesHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		respond.Error(w, bodyStatus(err), err.Error())
		return
	}

	entries, err := h.svc.History(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("load history failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "Erro ao processar: "+err.Error())
		return
	}

	respond.JSON(w, http.StatusOK, HistoryResponse{
		Success:       true,
		SessionID:     sessionID,
		Conversations: entries,
		Total:         len(entries),
	})
}

// ClearHistory DELETE /api/messages/history/{session_id}
func (h *MessagesHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	removed, err := h.svc.ClearHistory(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("clear history failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "Erro ao processar: "+err.Error())
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Histórico da sessão %s limpo com sucesso", sessionID),
		"removed": removed,
	})
}

// completionError 补全失败映射为 HTTP 状态
func (h *MessagesHandler) completionError(w http.ResponseWriter, err error) {
	var (
		unknown   *agent.UnknownToolError
		malformed *agent.MalformedToolArgumentsError
	)
	switch {
	case errors.Is(err, service.ErrInvalidMessage):
		respond.Error(w, http.StatusBadRequest, "Mensagem vazia após limpeza")
	case errors.Is(err, agent.ErrProvider):
		h.logger.Error("provider failure", slog.String("err", err.Error()))
		respond.Error(w, http.StatusBadGateway, "Erro ao processar: "+err.Error())
	case errors.As(err, &unknown), errors.As(err, &malformed):
		h.logger.Error("tool call rejected", slog.String("err", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "Erro ao processar: "+err.Error())
	default:
		h.logger.Error("completion failed", slog.String("err", err.Error()))
		respond.Error(w, http.StatusInternalServerError, "Erro ao processar: "+err.Error())
	}
}

// flushWriter 首次写入时发送响应头，每次写入后刷新
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
	header  func()
	started bool
}

func (f *flushWriter) ensureHeader() {
	if !f.started {
		f.started = true
		f.header()
	}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.ensureHeader()
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, nil
}
