package api

import (
	stderrors "errors"
	"net/http"

	"github.com/Niakdashit/Tirages-jeux/internal/errors"
)

// Codes only the HTTP layer produces
const (
	codeServerBusy     = "SERVER_BUSY"
	codeLedgerDisabled = "LEDGER_DISABLED"
)

// ErrorBody is the JSON payload of every error response
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure
type ErrorDetail struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Expected []string `json:"expected,omitempty"`
	Found    []string `json:"found,omitempty"`
}

// StatusFor maps an error code to an HTTP status
func StatusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeMissingColumn, errors.CodeUnreadableInput:
		return http.StatusUnprocessableEntity
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func detailFor(file string, err error) ErrorDetail {
	d := ErrorDetail{
		Code:    errors.GetCode(err),
		Message: err.Error(),
		File:    file,
	}
	var missing *errors.MissingColumnError
	if stderrors.As(err, &missing) {
		d.Missing = missing.Missing
		d.Expected = missing.Expected
		d.Found = missing.Found
	}
	if d.Code == errors.CodeInternalError {
		d.Message = "internal error"
	}
	return d
}
