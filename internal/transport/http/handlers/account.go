package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/service"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

type updateAccountRequest struct {
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
}

// CurrentUser — GET /current-user.
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	profile, err := h.svc.CurrentUser(r.Context(), user.ID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, profile, "User fetched successfully")
}

// UpdateAccount — PATCH /update-account, JSON {fullName?, email?}.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var in updateAccountRequest
	if err := h.decodeStrict(w, r, &in, false); err != nil {
		response.WriteError(w, r, err)
		return
	}

	profile, err := h.svc.UpdateAccountDetails(r.Context(), service.UpdateAccountInput{
		UserID:   user.ID,
		FullName: in.FullName,
		Email:    in.Email,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, profile, "Account details updated successfully")
}

// UpdateAvatar — PATCH /avatar, multipart с полем avatar.
func (h *Handlers) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.replaceImage(w, r, "avatar", h.svc.UpdateAvatar, "Avatar image updated successfully")
}

// UpdateCoverImage — PATCH /cover-image, multipart с полем coverImage.
func (h *Handlers) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.replaceImage(w, r, "coverImage", h.svc.UpdateCoverImage, "Cover image updated successfully")
}

type imageUpdater func(ctx context.Context, userID uuid.UUID, file *models.MediaUpload) (*models.Profile, error)

func (h *Handlers) replaceImage(w http.ResponseWriter, r *http.Request, field string, update imageUpdater, msg string) {
	user, err := currentUser(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.parseMultipart(w, r); err != nil {
		response.WriteError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, closeFile, err := formFile(r, field)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	defer closeFile()

	profile, err := update(r.Context(), user.ID, file)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, profile, msg)
}
