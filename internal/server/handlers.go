package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/internal/reqctx"
	"github.com/law-makers/panelwatch/internal/ui"
	"github.com/law-makers/panelwatch/pkg/models"
)

const (
	maxBodyBytes = 1 << 20
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := reqctx.Logger(r.Context())

	var req models.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.LoginResponse{Error: "invalid request body: " + err.Error(), Message: ui.MsgLoginFailed})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.LoginResponse{Error: err.Error(), Message: ui.MsgLoginFailed})
		return
	}

	if req.Queue {
		s.queueLogin(w, r, req)
		return
	}

	creds := &auth.Credentials{Email: req.Email, Password: req.Password}
	if !creds.HasEmail() && s.deps.Credentials != nil {
		stored, err := s.deps.Credentials.Get()
		switch {
		case err == nil:
			creds = stored
		case !errors.Is(err, auth.ErrNoCredentials):
			logger.Warn().Err(err).Msg("Failed to read stored credentials, continuing without")
		}
	}

	res, ok := s.deps.Login.TryLogin(r.Context(), creds)
	if !ok {
		writeJSON(w, http.StatusConflict, models.LoginResponse{Error: res.Error, Message: res.Message})
		return
	}

	logger.Info().Bool("success", res.Success).Str("state", string(res.State)).Msg("Login request finished")
	writeJSON(w, http.StatusOK, models.LoginResponse{Success: res.Success, Error: res.Error, Message: res.Message})
}

// queueLogin hands the login to the worker pool. Stored credentials are resolved
// by the job handler, so they never enter the job payload.
func (s *Server) queueLogin(w http.ResponseWriter, r *http.Request, req models.LoginRequest) {
	id, err := s.deps.Queue.EnqueueLogin(r.Context(), queue.LoginJob{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidJob) {
			writeJSON(w, http.StatusBadRequest, models.LoginResponse{Error: err.Error(), Message: ui.MsgLoginFailed})
			return
		}
		reqctx.Logger(r.Context()).Error().Err(err).Msg("Failed to queue login")
		writeJSON(w, http.StatusInternalServerError, models.LoginResponse{Error: err.Error(), Message: ui.MsgLoginFailed})
		return
	}
	writeJSON(w, http.StatusAccepted, models.LoginResponse{Success: true, Message: ui.MsgLoginQueued, JobID: id})
}

func (s *Server) handleScrapChannel(w http.ResponseWriter, r *http.Request) {
	logger := reqctx.Logger(r.Context())

	var req models.ScrapChannelRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ScrapChannelResponse{Message: ui.MsgInvalidScrapeJob + ": " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ScrapChannelResponse{Message: ui.MsgInvalidScrapeJob + ": " + err.Error()})
		return
	}

	id, err := s.deps.Queue.EnqueueScrape(r.Context(), models.ScrapeJob{
		Title:       req.Title,
		Description: req.Description,
		URL:         req.URL,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		logger.Error().Err(err).Str("channel_id", req.ChannelID).Msg("Failed to queue scrape")
		writeJSON(w, http.StatusInternalServerError, models.ScrapChannelResponse{Message: ui.MsgScrapeFailed})
		return
	}

	writeJSON(w, http.StatusAccepted, models.ScrapChannelResponse{Success: true, Message: ui.MsgScrapeQueued, JobID: id})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	// Payloads can hold account passwords
	job.Payload = nil
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.Summary())
}

// handleEvents streams queue events as JSON text frames until the client goes away
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	logger := reqctx.Logger(r.Context())
	if s.deps.Events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "event stream disabled"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.deps.Events.Subscribe(128)
	defer unsubscribe()

	// The read side only exists to notice the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug().Msg("Event stream client connected")
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Debug().Msg("Event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
