package server

import (
	"errors"
	"net/http"

	"github.com/r2browser/r2browser/internal/cloud/r2"
	"github.com/r2browser/r2browser/internal/transfer"
)

// Taxonomy codes the broker emits directly. Provider-side codes come
// through r2.MapError.
const (
	codeInvalidParam = r2.CodeValidationInvalidParam
	codeFileTooLarge = r2.CodeValidationFileTooLarge
	codeInternal     = r2.CodeInternal
)

// apiError is the handler-level error carried to the envelope writer.
type apiError struct {
	Code       string
	HTTPStatus int
	Message    string
	Details    any
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

func newAPIError(code string, status int, message string, details any) *apiError {
	return &apiError{Code: code, HTTPStatus: status, Message: message, Details: details}
}

func invalidParam(message string) *apiError {
	return newAPIError(codeInvalidParam, http.StatusBadRequest, message, nil)
}

// mapHandlerError converts any error surfaced by a handler into an
// apiError carrying a taxonomy code.
func mapHandlerError(err error) *apiError {
	if err == nil {
		return nil
	}

	var api *apiError
	if errors.As(err, &api) {
		return api
	}

	// Oversized bodies surface from http.MaxBytesReader mid-copy.
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newAPIError(codeFileTooLarge, http.StatusRequestEntityTooLarge, "request body exceeds the 5 GiB limit", nil)
	}

	if errors.Is(err, transfer.ErrTaskNotFound) {
		return newAPIError(codeInvalidParam, http.StatusNotFound, "no such transfer task", nil)
	}

	providerErr := r2.MapError(err)
	return newAPIError(providerErr.Code, providerErr.HTTPStatus, providerErr.Message, nil)
}
