package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dhatri/internal/apperr"
	"dhatri/internal/middleware"
	"dhatri/internal/models"
	"dhatri/internal/service"
	"dhatri/internal/util"
	"dhatri/internal/version"
)

const (
	maxBodyBytes = 10 << 10

	// Fallback bound for ?hours= when no audit retention is configured.
	defaultMaxAuditHours = 2555 * 24
)

type authData struct {
	User        models.PublicUser `json:"user"`
	AccessToken string            `json:"accessToken"`
	ExpiresIn   string            `json:"expiresIn"`
}

type tokenData struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   string `json:"expiresIn"`
}

func meta(r *http.Request) service.Meta {
	return service.Meta{IP: middleware.IP(r.Context()), UserAgent: r.UserAgent()}
}

// decode reads an optional JSON body. An empty body leaves dst untouched.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := util.DecodeJSON(w, r, dst, maxBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.Validation, "Invalid JSON body", err)
	}
	return nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.svc.Health(r.Context()); err != nil {
		util.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false, "message": "Auth service is unavailable", "timestamp": now,
		})
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true, "message": "Auth service is running", "timestamp": now,
		"version": version.Current(),
	})
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := h.decode(w, r, &req); err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	res, err := h.svc.Register(r.Context(), req, meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	h.setRefreshCookie(w, res.RefreshToken)
	util.WriteSuccess(w, http.StatusCreated, "User registered successfully", h.authData(res))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	h.setRefreshCookie(w, res.RefreshToken)
	util.WriteSuccess(w, http.StatusOK, "Login successful", h.authData(res))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshToken prefers the cookie and falls back to a JSON body field.
func (h *Handlers) refreshToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(h.cfg.RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	_ = h.decode(w, r, &req)
	return req.RefreshToken
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Refresh(r.Context(), h.refreshToken(w, r), meta(r))
	if err != nil {
		if apperr.Is(err, apperr.InvalidRefreshToken) {
			h.clearRefreshCookie(w)
		}
		h.resp.Fail(w, r, err)
		return
	}
	h.setRefreshCookie(w, res.RefreshToken)
	util.WriteSuccess(w, http.StatusOK, "Token refreshed successfully", tokenData{
		AccessToken: res.AccessToken,
		ExpiresIn:   formatTTL(res.ExpiresIn),
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context(), h.refreshToken(w, r), meta(r))
	h.clearRefreshCookie(w)
	util.WriteSuccess(w, http.StatusOK, "Logout successful", nil)
}

func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.LogoutAll(r.Context(), middleware.UserID(r.Context()), meta(r)); err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	util.WriteSuccess(w, http.StatusOK, "Logged out from all devices successfully", nil)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.CurrentUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "", map[string]any{"user": u.Public()})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	res, err := h.svc.ChangePassword(r.Context(), middleware.UserID(r.Context()), req.CurrentPassword, req.NewPassword, meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	h.setRefreshCookie(w, res.RefreshToken)
	util.WriteSuccess(w, http.StatusOK, "Password changed successfully", h.authData(res))
}

func (h *Handlers) AdminUnlockUser(w http.ResponseWriter, r *http.Request) {
	err := h.svc.UnlockUser(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "userId"), meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "Account unlocked", nil)
}

func (h *Handlers) AdminDeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) AdminActivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	err := h.svc.SetActive(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "userId"), active, meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	msg := "Account activated"
	if !active {
		msg = "Account deactivated"
	}
	util.WriteSuccess(w, http.StatusOK, msg, nil)
}

func (h *Handlers) AdminFailedLogins(w http.ResponseWriter, r *http.Request) {
	hours := min(queryInt(r, "hours", 24), h.maxAuditHours())
	entries, err := h.svc.FailedLogins(r.Context(), time.Duration(hours)*time.Hour, queryInt(r, "limit", service.MaxActivityLimit))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "", map[string]any{"entries": entries, "count": len(entries), "hours": hours})
}

// maxAuditHours is the audit retention window in hours. Older entries are
// purged, so a longer look-back reads nothing more.
func (h *Handlers) maxAuditHours() int {
	if n := int(h.cfg.AuditRetention / time.Hour); n > 0 {
		return n
	}
	return defaultMaxAuditHours
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.Sessions(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "", map[string]any{"sessions": sessions})
}

func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RevokeSession(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "sessionId"), meta(r))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "Session revoked", nil)
}

func (h *Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Activity(r.Context(), chi.URLParam(r, "userId"), queryInt(r, "limit", service.DefaultActivityLimit))
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	util.WriteSuccess(w, http.StatusOK, "", map[string]any{"entries": entries})
}

func (h *Handlers) authData(res service.AuthResult) authData {
	return authData{
		User:        res.User.Public(),
		AccessToken: res.AccessToken,
		ExpiresIn:   formatTTL(res.ExpiresIn),
	}
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    token,
		Path:     h.cfg.RefreshCookiePath,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.svc.Codec().RefreshTTL().Seconds()),
	})
}

func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    "",
		Path:     h.cfg.RefreshCookiePath,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(1, 0).UTC(),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// formatTTL renders a lifetime the way clients configure it ("15m", "7d").
func formatTTL(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}
