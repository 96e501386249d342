package r2

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// Taxonomy codes shared with the broker's wire contract.
const (
	CodeValidationInvalidParam  = "VALIDATION_INVALID_PARAM"
	CodeValidationFileTooLarge  = "VALIDATION_FILE_TOO_LARGE"
	CodeAuthInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeAuthPermissionDenied    = "AUTH_PERMISSION_DENIED"
	CodeBucketNotFound          = "BUCKET_NOT_FOUND"
	CodeObjectNotFound          = "OBJECT_NOT_FOUND"
	CodeServiceError            = "R2_SERVICE_ERROR"
	CodeTimeout                 = "R2_TIMEOUT"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
)

// Error is the typed provider error. The broker maps Code straight onto
// the wire taxonomy; HTTPStatus is the status the broker responds with.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure class is worth retrying
// (network faults and provider 5xx). Used by the transfer engine only.
func (e *Error) Retryable() bool {
	return e.Code == CodeServiceError || e.Code == CodeTimeout
}

// NewError builds a taxonomy error with an explicit code.
func NewError(code string, status int, message string, err error) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message, Err: err}
}

// MapError converts an aws-sdk failure into the taxonomy. Unknown
// provider codes fall through to R2_SERVICE_ERROR for 5xx responses and
// INTERNAL_SERVER_ERROR otherwise.
func MapError(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, http.StatusGatewayTimeout, "request to storage provider timed out", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return NewError(CodeBucketNotFound, http.StatusNotFound, "bucket does not exist", err)
		case "NoSuchKey", "NotFound":
			return NewError(CodeObjectNotFound, http.StatusNotFound, "object does not exist", err)
		case "AccessDenied":
			return NewError(CodeAuthPermissionDenied, http.StatusForbidden, "operation not permitted with these credentials", err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "RequestTimeTooSkewed":
			return NewError(CodeAuthInvalidCredentials, http.StatusUnauthorized, "storage credentials were rejected", err)
		case "RequestTimeout":
			return NewError(CodeTimeout, http.StatusGatewayTimeout, "storage provider timed out", err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == http.StatusNotFound:
			return NewError(CodeObjectNotFound, http.StatusNotFound, "object does not exist", err)
		case status == http.StatusForbidden:
			return NewError(CodeAuthPermissionDenied, http.StatusForbidden, "operation not permitted with these credentials", err)
		case status == http.StatusUnauthorized:
			return NewError(CodeAuthInvalidCredentials, http.StatusUnauthorized, "storage credentials were rejected", err)
		case status >= 500:
			return NewError(CodeServiceError, http.StatusBadGateway, "storage provider returned a server error", err)
		}
	}

	return NewError(CodeInternal, http.StatusInternalServerError, "unexpected storage provider failure", err)
}
