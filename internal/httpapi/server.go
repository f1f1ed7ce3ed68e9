package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/florelia/sisters/internal/chat"
	"github.com/florelia/sisters/internal/config"
	"github.com/florelia/sisters/internal/observability"
	"github.com/florelia/sisters/internal/persona"
	"github.com/florelia/sisters/internal/privacy"
	"github.com/florelia/sisters/internal/store"
)

type Server struct {
	cfg      config.Config
	service  *chat.Service
	store    store.Store
	cipher   *privacy.Cipher
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, service *chat.Service, st store.Store, cipher *privacy.Cipher, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		store:   st,
		cipher:  cipher,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. Non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/messages", s.handleInboundMessage)
	r.Post("/v1/replies", s.handleRecordReply)
	r.Get("/v1/history", s.handleHistory)
	r.Delete("/v1/users", s.handleDeleteUser)
	r.Post("/v1/users/export", s.handleExportUser)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"store_mode":     s.storeMode(),
		"encryption_key": s.encryptionMode(),
	})
}

// encryptionMode reports whether stored data survives a restart.
func (s *Server) encryptionMode() string {
	if s.cipher != nil && s.cipher.Ephemeral() {
		return "ephemeral"
	}
	return "configured"
}

type messageRequest struct {
	Identifier string `json:"identifier"`
	Content    string `json:"content"`
}

func (s *Server) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		respondError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}

	res, err := s.service.HandleInbound(r.Context(), req.Identifier, req.Content)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			respondError(w, http.StatusBadRequest, "empty_message", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type replyRequest struct {
	Identifier string `json:"identifier"`
	Persona    string `json:"persona"`
	Content    string `json:"content"`
}

func (s *Server) handleRecordReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		respondError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}
	p, ok := persona.Parse(req.Persona)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown_persona", "persona must be one of botan, kasho, yuri")
		return
	}

	if err := s.service.RecordReply(r.Context(), req.Identifier, p, req.Content); err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			respondError(w, http.StatusBadRequest, "empty_message", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"status": "recorded", "persona": p})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identifier := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if identifier == "" {
		respondError(w, http.StatusBadRequest, "missing_identifier", "query parameter identifier is required")
		return
	}

	var p persona.Persona
	if v := strings.TrimSpace(r.URL.Query().Get("persona")); v != "" {
		parsed, ok := persona.Parse(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown_persona", "persona must be one of botan, kasho, yuri")
			return
		}
		p = parsed
	}

	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.service.History(r.Context(), identifier, p, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type userRequest struct {
	Identifier string `json:"identifier"`
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		respondError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}

	summary, err := s.store.DeleteUserData(r.Context(), req.Identifier)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExportUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" {
		respondError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}

	export, err := s.store.ExportUserData(r.Context(), req.Identifier)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, export)
}

// wsError mirrors errorResponse for the websocket channel.
type wsError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		s.countWS("inbound")

		var req messageRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeWS(conn, wsError{Error: err.Error(), Code: "invalid_client_message"})
			continue
		}
		if strings.TrimSpace(req.Identifier) == "" {
			s.writeWS(conn, wsError{Error: "identifier is required", Code: "missing_identifier"})
			continue
		}

		res, err := s.service.HandleInbound(r.Context(), req.Identifier, req.Content)
		if err != nil {
			code := "internal"
			if errors.Is(err, chat.ErrEmptyMessage) {
				code = "empty_message"
			}
			s.writeWS(conn, wsError{Error: err.Error(), Code: code})
			continue
		}
		if !s.writeWS(conn, res) {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		return false
	}
	s.countWS("outbound")
	return true
}

func (s *Server) countWS(direction string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction).Inc()
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
