package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hshadab/morpho/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит отказ гейта в HTTP-ответ. Клиент получает конкретный
// код отказа, чтобы самокорректироваться (дождаться окна vs перегенерировать
// доказательство); внутренние детали инфраструктурных сбоев наружу не утекают.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.RejectionKind(err)
	switch {
	case errors.Is(err, domain.ErrPolicyNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: kind, Message: err.Error()})
	case kind != "":
		writeJSON(w, http.StatusForbidden, errorResponse{Error: kind, Message: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "internal", Message: "operation failed"})
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
