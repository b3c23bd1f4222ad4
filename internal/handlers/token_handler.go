package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/services"
)

type TokenHandler struct {
	tokens *services.TokenService
}

type tokenRequest struct {
	UserID   string `json:"userId"`
	PairCode string `json:"pairCode"`
}

func NewTokenHandler(tokens *services.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	res, err := h.tokens.IssueToken(req.UserID, req.PairCode)
	if err != nil {
		if errors.Is(err, models.ErrNotPaired) || errors.Is(err, services.ErrInvalidPairCode) {
			glog.Warningf("[tokens]rejected %q = %s\n", req.UserID, err)
			writeError(w, http.StatusUnauthorized, "invalid identity or pair code")
			return
		}
		glog.Errorf("[tokens]issue %q error = %s\n", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
