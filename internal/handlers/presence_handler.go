package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/prudhvinik1/ussync/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type PresenceHandler struct {
	repo     repositories.PresenceRepository
	pairing  models.Pairing
	upgrader websocket.Upgrader
}

func NewPresenceHandler(repo repositories.PresenceRepository, pairing models.Pairing, checkOrigin func(*http.Request) bool) *PresenceHandler {
	return &PresenceHandler{
		repo:    repo,
		pairing: pairing,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// memberParam returns the path identity, writing 404 when it is not part of the pairing.
func (h *PresenceHandler) memberParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	if !h.pairing.IsMember(userID) {
		writeError(w, http.StatusNotFound, "unknown user")
		return "", false
	}
	return userID, true
}

func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.memberParam(w, r)
	if !ok {
		return
	}

	presence, err := h.repo.GetPresence(r.Context(), userID)
	if errors.Is(err, repositories.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no presence yet")
		return
	}
	if err != nil {
		glog.Errorf("[presence]get %s error = %s\n", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

// Patch merge-writes the caller's own document.
func (h *PresenceHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.memberParam(w, r)
	if !ok {
		return
	}
	if sub, _ := SubjectFrom(r.Context()); sub != userID {
		writeError(w, http.StatusForbidden, "only the owner may write this presence")
		return
	}

	var patch models.PresencePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if err := validatePatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.MergePresence(r.Context(), userID, patch); err != nil {
		glog.Errorf("[presence]merge %s error = %s\n", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validatePatch(patch models.PresencePatch) error {
	if patch.IsEmpty() {
		return errors.New("empty patch")
	}
	if loc := patch.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return errors.New("coordinates out of range")
		}
	}
	if patch.Status != nil {
		if err := services.ValidateStatus(*patch.Status); err != nil {
			return err
		}
	}
	return nil
}

// Stream upgrades to a websocket and sends one snapshot frame per change of the document.
func (h *PresenceHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.memberParam(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[stream]upgrade %s error = %s\n", userID, err)
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// The request context is not canceled when a hijacked client goes away,
	// so the read pump owns cancellation.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.repo.Watch(ctx, userID)
	if err != nil {
		glog.Errorf("[stream]watch %s error = %s\n", userID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "watch failed")
		return
	}
	defer stream.Close()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sub, _ := SubjectFrom(r.Context())
	glog.V(1).Infof("[stream]%s watching %s\n", sub, userID)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(conn, websocket.CloseGoingAway, "")
			return
		case snap, ok := <-stream.Updates():
			if !ok {
				if err := stream.Err(); err != nil {
					glog.Warningf("[stream]%s ended = %s\n", userID, err)
				}
				closeWith(conn, websocket.CloseInternalServerErr, "presence stream ended")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				glog.V(1).Infof("[stream]write %s error = %s\n", userID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
