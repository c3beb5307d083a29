package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/service"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/middleware"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type sessionResponse struct {
	User         *models.Profile `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type empty struct{}

// Register — POST /register, multipart/form-data:
// username, email, password, fullName, avatar (файл), coverImage (файл, опционально).
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if err := h.parseMultipart(w, r); err != nil {
		response.WriteError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	avatar, closeAvatar, err := formFile(r, "avatar")
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	defer closeAvatar()

	cover, closeCover, err := formFile(r, "coverImage")
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	defer closeCover()

	profile, err := h.svc.Register(r.Context(), service.RegisterInput{
		Username:   r.FormValue("username"),
		Email:      r.FormValue("email"),
		Password:   r.FormValue("password"),
		FullName:   r.FormValue("fullName"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, profile, "User registered successfully")
}

// Login — POST /login, JSON {username?, email?, password}.
// Токены отдаются и в теле, и в cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := h.decodeStrict(w, r, &in, false); err != nil {
		response.WriteError(w, r, err)
		return
	}

	sess, err := h.svc.Login(r.Context(), service.LoginInput{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.setTokenCookies(w, sess.Tokens)
	response.OK(w, sessionResponse{
		User:         sess.User,
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	}, "User logged in successfully")
}

// Logout — POST /logout (за VerifyJWT). Очищает слот refresh-токена и cookie.
// Cookie сбрасываются при любом исходе, в том числе при ошибке сервиса.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearTokenCookies(w)

	user, err := currentUser(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.svc.Logout(r.Context(), user.ID); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, empty{}, "User logged out")
}

// RefreshToken — POST /refresh-token. Токен из cookie refreshToken,
// иначе из JSON {refreshToken}; тело может отсутствовать.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var raw string
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		raw = c.Value
	}

	if raw == "" {
		var in refreshRequest
		if err := h.decodeStrict(w, r, &in, true); err != nil {
			response.WriteError(w, r, err)
			return
		}
		raw = in.RefreshToken
	}

	pair, err := h.svc.RefreshAccessToken(r.Context(), raw)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.setTokenCookies(w, *pair)
	response.OK(w, tokensResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "Access token refreshed")
}

// ChangePassword — POST /change-password (за VerifyJWT),
// JSON {oldPassword, newPassword, confirmPassword?}.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var in changePasswordRequest
	if err := h.decodeStrict(w, r, &in, false); err != nil {
		response.WriteError(w, r, err)
		return
	}

	err = h.svc.ChangePassword(r.Context(), service.ChangePasswordInput{
		UserID:          user.ID,
		OldPassword:     in.OldPassword,
		NewPassword:     in.NewPassword,
		ConfirmPassword: in.ConfirmPassword,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, empty{}, "Password changed successfully")
}
