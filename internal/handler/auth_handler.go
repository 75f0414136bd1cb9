package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/service"
	"github.com/snackychef/auth-service/internal/token"
)

const refreshCookieName = "refreshToken"

// AuthHandler exposes the auth flow over HTTP.
type AuthHandler struct {
	auth   *service.AuthService
	tokens *token.Manager
	cfg    *config.Config
}

func NewAuthHandler(auth *service.AuthService, tokens *token.Manager, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens, cfg: cfg}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.Signup)
	r.Post("/verify-email", h.VerifyEmail)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(AuthGate(h.tokens))
		r.Get("/profile", h.Profile)
		r.Patch("/update-profile", h.UpdateProfile)
	})
}

type signupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	TermsAccepted   bool   `json:"termsAccepted"`
	CookieEssential bool   `json:"cookieEssential"`
	CookieAnalytics bool   `json:"cookieAnalytics"`
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, err := h.auth.Signup(r.Context(), service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		Name:            req.Name,
		Phone:           req.Phone,
		TermsAccepted:   req.TermsAccepted,
		CookieEssential: req.CookieEssential,
		CookieAnalytics: req.CookieAnalytics,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusCreated,
		"User registered. Check your email for the verification code.",
		map[string]string{"userId": userID})
}

type verifyEmailRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.VerifyEmail(r.Context(), req.UserID, req.OTP); err != nil {
		respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Email verified successfully", nil)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pair, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)

	// The refresh token travels only in the cookie.
	respondSuccess(w, http.StatusOK, "Login successful",
		map[string]string{"accessToken": pair.AccessToken})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// Best effort: identify the user from the access token if one came
	// along, for the audit trail only.
	if header := r.Header.Get("Authorization"); len(header) > 7 {
		if userID, err := h.tokens.VerifyAccess(header[7:]); err == nil {
			h.auth.Logout(r.Context(), userID)
		}
	}

	h.clearRefreshCookie(w)
	respondSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
		return
	}

	profile, err := h.auth.GetProfile(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Profile fetched", profile)
}

type updateProfileRequest struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	CookieEssential *bool  `json:"cookieEssential"`
	CookieAnalytics *bool  `json:"cookieAnalytics"`
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized: No token provided")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := h.auth.UpdateProfile(r.Context(), userID, service.ProfileUpdate{
		Name:            req.Name,
		Phone:           req.Phone,
		CookieEssential: req.CookieEssential,
		CookieAnalytics: req.CookieAnalytics,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Profile updated", profile)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   h.cfg.Token.RefreshCookieMaxAge(),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction() || h.cfg.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction() || h.cfg.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
