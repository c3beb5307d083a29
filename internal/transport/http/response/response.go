// response стандартизирует ответы REST API users-service.
//
// Успех:  {statusCode, data, message, success:true}
// Ошибка: {statusCode, data:null, message, success:false, errors:[]}
//
// WriteError — единственное место, где ошибки сервиса превращаются в
// HTTP-статусы. Клиент видит только текст sentinel-ошибки; обёртки с op и
// причинами остаются в логах.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/go-video-platform/internal/pkg/log"
	"github.com/pribylovaa/go-video-platform/internal/service"
)

// StatusClientClosedRequest — нестандартный код для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Ошибки транспортного слоя.
var (
	// ErrBadRequest — тело запроса не разбирается. HTTP 400.
	ErrBadRequest = errors.New("invalid request body")
	// ErrTooManyRequests — сработал лимитер. HTTP 429.
	ErrTooManyRequests = errors.New("too many requests, try again later")
	// ErrRouteNotFound — нет такого маршрута. HTTP 404.
	ErrRouteNotFound = errors.New("route not found")
	// ErrMethodNotAllowed — метод не поддерживается маршрутом. HTTP 405.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// Envelope — успешный ответ.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorEnvelope — ответ с ошибкой. Errors всегда сериализуется как массив.
type ErrorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Data       any      `json:"data"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
	RequestID  string   `json:"requestId,omitempty"`
}

type mapping struct {
	err    error
	status int
}

// table: порядок важен только для читаемости, sentinel-ошибки не пересекаются.
var table = []mapping{
	{service.ErrFieldsRequired, http.StatusBadRequest},
	{service.ErrInvalidEmail, http.StatusBadRequest},
	{service.ErrAvatarRequired, http.StatusBadRequest},
	{service.ErrAvatarUpload, http.StatusBadRequest},
	{service.ErrCoverImageRequired, http.StatusBadRequest},
	{service.ErrCoverImageUpload, http.StatusBadRequest},
	{service.ErrPasswordMismatch, http.StatusBadRequest},
	{service.ErrNothingToUpdate, http.StatusBadRequest},
	{service.ErrPasswordTooLong, http.StatusBadRequest},
	{service.ErrLoginRequired, http.StatusBadRequest},
	{ErrBadRequest, http.StatusBadRequest},

	{service.ErrUserExists, http.StatusConflict},
	{service.ErrUserNotFound, http.StatusNotFound},

	{service.ErrUnauthorized, http.StatusUnauthorized},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrInvalidToken, http.StatusUnauthorized},
	{service.ErrTokenReused, http.StatusUnauthorized},
	{service.ErrInvalidOldPassword, http.StatusUnauthorized},

	{ErrRouteNotFound, http.StatusNotFound},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed},
	{ErrTooManyRequests, http.StatusTooManyRequests},
}

// ToHTTP переводит ошибку в HTTP-статус и безопасное сообщение.
//
// Поведение:
//   - известная sentinel-ошибка (в т.ч. обёрнутая) -> статус из таблицы, её текст;
//   - context.Canceled -> 499, context.DeadlineExceeded -> 504;
//   - прочее, включая nil, -> 500 "internal error".
func ToHTTP(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, service.ErrInternal.Error()
	}

	for _, m := range table {
		if errors.Is(err, m.err) {
			return m.status, m.err.Error()
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, service.ErrInternal.Error()
	}
}

// WriteError пишет ErrorEnvelope и добавляет request_id, если он известен.
// Ответы 5xx логируются с исходной ошибкой.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := ToHTTP(err)

	if status >= http.StatusInternalServerError && err != nil {
		log.From(r.Context()).Error("request_failed", "status", status, "err", err.Error())
	}

	writeJSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Data:       nil,
		Message:    msg,
		Success:    false,
		Errors:     []string{},
		RequestID:  r.Header.Get("X-Request-Id"),
	})
}

// OK пишет успешный ответ со статусом 200.
func OK(w http.ResponseWriter, data any, message string) {
	Write(w, http.StatusOK, data, message)
}

// Write пишет Envelope с произвольным статусом; success = status < 400.
func Write(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
