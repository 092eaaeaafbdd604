// Пакет errors — конструкторы стандартных ошибок Archive Service.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNotFound          = "NOT_FOUND"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeReclaimInProgress = "RECLAIM_IN_PROGRESS"
	CodeArchiveFailed     = "ARCHIVE_FAILED"
	CodeIOFailure         = "IO_FAILURE"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// UnsupportedType — 400 неподдерживаемый тип файла.
func UnsupportedType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnsupportedType, message)
}

// FileTooLarge — 413 загрузка превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// NotFound — 404 артефакт не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// FileNotFound — 404 запись есть, файла нет.
func FileNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeFileNotFound, message)
}

// InvalidTransition — 409 недопустимый переход статуса.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// ReclaimInProgress — 409 очистка уже выполняется.
func ReclaimInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReclaimInProgress, message)
}

// ArchiveFailed — 500 ошибка сжатия или распаковки.
func ArchiveFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeArchiveFailed, message)
}

// IOFailure — 500 ошибка файловой системы.
func IOFailure(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeIOFailure, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
