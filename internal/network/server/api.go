package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/palemoky/danmaku-sync/internal/apperrors"
	"github.com/palemoky/danmaku-sync/internal/danmaku"
)

// Check 单项健康检查结果
type Check struct {
	Status  string `json:"status"` // pass / warn / fail
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string           `json:"status"` // healthy / degraded
	Node        string           `json:"node"`
	Connections int              `json:"connections"`
	Rooms       int              `json:"rooms"`
	Subscribed  int              `json:"subscribed"` // 已订阅广播的视频数
	Retrying    int              `json:"retrying"`   // 订阅失败、后台重试中的视频数
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// HistoryResponse 历史弹幕查询响应
type HistoryResponse struct {
	VideoID string            `json:"video_id"`
	From    float64           `json:"from"`
	To      float64           `json:"to"`
	Danmaku []danmaku.Message `json:"danmaku"`
}

type scoreRequest struct {
	Score       *float64 `json:"score"`
	IsHighlight bool     `json:"is_highlight"`
}

// handleHealth 健康检查接口
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		healthy = false
	} else {
		checks["store"] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	if s.redis != nil {
		start = time.Now()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	}

	subscribed, retrying := s.subs.counts()
	if retrying > 0 {
		checks["bridge"] = Check{Status: "warn", Message: fmt.Sprintf("%d videos waiting to subscribe", retrying)}
	} else {
		checks["bridge"] = Check{Status: "pass"}
	}

	resp := HealthResponse{
		Status:      "healthy",
		Node:        s.nodeID,
		Connections: s.GetOnlineCount(),
		Rooms:       s.registry.RoomCount(),
		Subscribed:  subscribed,
		Retrying:    retrying,
		Checks:      checks,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy || s.IsMaintenanceMode() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleHistoryAPI GET /api/videos/{videoID}/danmaku?from=&to=
func (s *Server) handleHistoryAPI(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if videoID == "" || len(videoID) > maxVideoIDLength {
		writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	from, err := queryFloat(r, "from", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := queryFloat(r, "to", from+s.config.Danmaku.MaxHistoryWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}

	from, to, ok := s.clampWindow(from, to)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid range")
		return
	}

	msgs, err := s.ingest.History(r.Context(), videoID, from, to)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []danmaku.Message{}
	}

	writeJSON(w, http.StatusOK, HistoryResponse{VideoID: videoID, From: from, To: to, Danmaku: msgs})
}

// handleScoreCallback POST /api/danmaku/{id}/score，打分服务回写结果
func (s *Server) handleScoreCallback(w http.ResponseWriter, r *http.Request) {
	if secret := s.config.Security.CallbackSecret; secret != "" {
		got := r.Header.Get("X-Callback-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid callback secret")
			return
		}
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req scoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Score == nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := s.callback.AttachScore(r.Context(), id, *req.Score, req.IsHighlight); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"error": apperrors.MessageOf(err), "code": apperrors.CodeOf(err)})
}
