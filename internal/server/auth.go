package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

// handleSession exchanges the shared API secret for a bearer token. Returns
// 404 when token auth is not configured.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Security.APISecret == "" {
		writeError(w, http.StatusNotFound, "token auth not enabled")
		return
	}

	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Secret != s.cfg.Security.APISecret {
		writeError(w, http.StatusUnauthorized, "wrong secret")
		return
	}

	exp := time.Now().Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   "operator",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Security.APISecret))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"expires_at": exp.Unix(),
	})
}

// authorized gates every route except session issuance when an API secret is
// configured. Websocket clients may pass the token as a query parameter.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Security.APISecret == "" {
		return true
	}
	if r.URL.Path == "/api/session" {
		return true
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return false
	}

	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.Security.APISecret), nil
	})
	return err == nil
}
