package helpers

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// Machine readable markers in Response.Code.
const (
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeValidation   = "VALIDATION_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
)

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return
	}
}

func JSON(w http.ResponseWriter, status int, message string, data interface{}) {
	write(w, status, Response{Success: true, Message: message, Data: data})
}

func Error(w http.ResponseWriter, status int, errMsg string) {
	write(w, status, Response{Success: false, Message: errMsg})
}

// ErrorCode is Error with a machine readable marker, e.g. TOKEN_EXPIRED.
func ErrorCode(w http.ResponseWriter, status int, code, errMsg string) {
	write(w, status, Response{Success: false, Message: errMsg, Code: code})
}

func ValidationError(w http.ResponseWriter, details []string) {
	write(w, http.StatusBadRequest, Response{
		Success: false,
		Message: "Validation error",
		Code:    CodeValidation,
		Errors:  details,
	})
}

// JSONStatus writes data with an explicit success flag, for responses like a degraded health check.
func JSONStatus(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	write(w, status, Response{Success: success, Message: message, Data: data})
}
