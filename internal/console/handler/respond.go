package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor переводит доменные ошибки в HTTP-статусы единообразно для всех
// обработчиков консоли.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, domain.ErrServiceNotFound),
		errors.Is(err, domain.ErrAgentNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAgentUnavailable):
		return http.StatusServiceUnavailable
	}
	return fallback
}

// writeError — для чтений и переходов: неопознанная ошибка это 500.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err, http.StatusInternalServerError))
}

// writeInvalid — для операций с пользовательским вводом: неопознанная
// ошибка трактуется как некорректный запрос.
func writeInvalid(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err, http.StatusBadRequest))
}
