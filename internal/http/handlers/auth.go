package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thatmoment/server/internal/apperr"
	"github.com/thatmoment/server/internal/auth"
	"github.com/thatmoment/server/internal/middleware"
)

// AuthHandler serves the auth endpoints
type AuthHandler struct {
	authService *auth.AuthService
	cookies     CookieConfig
	log         logrus.FieldLogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, cookies CookieConfig, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		log:         log.WithField("component", "http"),
	}
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	AllDevices bool `json:"allDevices"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Message string    `json:"message"`
}

// tokenResponse omits the tokens for web clients, which receive them as cookies
type tokenResponse struct {
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresIn    int64     `json:"expiresIn"`
	TokenType    string    `json:"tokenType"`
	UserID       uuid.UUID `json:"userId"`
	Email        string    `json:"email"`
	SessionID    uuid.UUID `json:"sessionId"`
}

type sessionResponse struct {
	ID             uuid.UUID `json:"id"`
	DeviceName     string    `json:"deviceName"`
	Platform       string    `json:"platform"`
	IPAddress      string    `json:"ipAddress"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	Current        bool      `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type meResponse struct {
	UserID     uuid.UUID  `json:"userId"`
	Email      string     `json:"email"`
	SessionID  uuid.UUID  `json:"sessionId"`
	IsVerified bool       `json:"isVerified"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// HandleRegister handles POST /register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	result, err := h.authService.Register(r.Context(), req.Email)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, registerResponse{UserID: result.UserID, Message: result.Message})
}

// HandleVerifyEmail handles POST /verify-email
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Email, strings.TrimSpace(req.Code)); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

// HandleResendCode handles POST /resend-code
func (h *AuthHandler) HandleResendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	if err := h.authService.ResendCode(r.Context(), req.Email); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Verification code sent"})
}

// HandleLogin handles POST /login by sending a login code
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	if err := h.authService.RequestLoginCode(r.Context(), req.Email); err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: "Login code sent"})
}

// HandleVerifyLogin handles POST /login/verify
func (h *AuthHandler) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	bundle, err := h.authService.VerifyLogin(r.Context(), auth.LoginRequest{
		Email:     req.Email,
		Code:      strings.TrimSpace(req.Code),
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	h.respondTokens(w, r, bundle)
}

// HandleRefresh handles POST /refresh. The token is read from the body and,
// when absent there, from the refresh cookie.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		respondError(w, r, h.log, auth.ErrValidation.WithMessage("Refresh token is required"))
		return
	}

	bundle, err := h.authService.Refresh(r.Context(), raw)
	if err != nil {
		// cookies go only when the token itself was rejected
		if isWebClient(r) && apperr.From(err).Kind == apperr.KindUnauthorized {
			h.cookies.clearTokens(w)
		}
		respondError(w, r, h.log, err)
		return
	}
	h.respondTokens(w, r, bundle)
}

// HandleLogout handles POST /logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, auth.ErrAuthRequired)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	if err := h.authService.Logout(r.Context(), principal.UserID, principal.SessionID, req.AllDevices); err != nil {
		respondError(w, r, h.log, err)
		return
	}

	h.cookies.clearTokens(w)
	message := "Logged out successfully"
	if req.AllDevices {
		message = "Logged out from all devices"
	}
	respondJSON(w, http.StatusOK, messageResponse{Message: message})
}

// HandleSessions handles GET /sessions (protected)
func (h *AuthHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, auth.ErrAuthRequired)
		return
	}

	views, err := h.authService.ListSessions(r.Context(), principal.UserID, principal.SessionID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}

	resp := sessionsResponse{Sessions: make([]sessionResponse, 0, len(views))}
	for _, v := range views {
		resp.Sessions = append(resp.Sessions, sessionResponse{
			ID:             v.ID,
			DeviceName:     v.DeviceName,
			Platform:       v.Platform,
			IPAddress:      v.IPAddress,
			LastActivityAt: v.LastActivityAt,
			CreatedAt:      v.CreatedAt,
			Current:        v.Current,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleMe handles GET /me (protected)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, auth.ErrAuthRequired)
		return
	}

	user, err := h.authService.Me(r.Context(), principal.UserID)
	if err != nil {
		respondError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, meResponse{
		UserID:     user.ID,
		Email:      user.Email,
		SessionID:  principal.SessionID,
		IsVerified: user.IsVerified,
		VerifiedAt: user.VerifiedAt,
		CreatedAt:  user.CreatedAt,
	})
}

func (h *AuthHandler) respondTokens(w http.ResponseWriter, r *http.Request, b *auth.TokenBundle) {
	resp := tokenResponse{
		AccessToken:  b.AccessToken,
		RefreshToken: b.RefreshToken,
		ExpiresIn:    b.ExpiresIn,
		TokenType:    b.TokenType,
		UserID:       b.UserID,
		Email:        b.Email,
		SessionID:    b.SessionID,
	}
	if isWebClient(r) {
		h.cookies.setTokens(w, b.AccessToken, b.RefreshToken)
		resp.AccessToken = ""
		resp.RefreshToken = ""
	}
	respondJSON(w, http.StatusOK, resp)
}
