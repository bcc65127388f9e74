package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every module.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_012"
)

// Short aliases used at call sites throughout the codebase.
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")

	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeUnauthorized   = ErrCodeUnauthorized
	CodeForbidden      = ErrCodeForbidden
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeTimeout        = ErrCodeTimeout
	CodeValidation     = ErrCodeValidation
	CodeNotImplemented = ErrCodeNotImplemented
)

// Taxonomy error codes. All of these are startup-time configuration defects:
// a malformed keyword table must stop the process before it serves a single
// analysis request.
const (
	ErrCodeTaxonomyEmptyKeyword    ErrorCode = "TAX_001"
	ErrCodeTaxonomyUnknownCategory ErrorCode = "TAX_002"
	ErrCodeTaxonomyUnknownSeverity ErrorCode = "TAX_003"
	ErrCodeTaxonomyNoRules         ErrorCode = "TAX_004"
	ErrCodeTaxonomyFileInvalid     ErrorCode = "TAX_005"
)

// Detection engine error codes.
const (
	ErrCodeEngineConfigInvalid ErrorCode = "ENG_001"
)

// Statistical classifier error codes. Classifier failures are recovered
// locally by the scorer; these codes surface only in logs and health checks.
const (
	ErrCodeClassifierUnavailable     ErrorCode = "CLS_001"
	ErrCodeClassifierInferenceFailed ErrorCode = "CLS_002"
	ErrCodeClassifierProviderUnknown ErrorCode = "CLS_003"
	ErrCodeClassifierBadResponse     ErrorCode = "CLS_004"
)

// Text extraction error codes.
const (
	ErrCodeExtractUnsupportedFormat ErrorCode = "EXT_001"
	ErrCodeExtractFailed            ErrorCode = "EXT_002"
	ErrCodeExtractEmptyText         ErrorCode = "EXT_003"
)

// Analysis module error codes.
const (
	ErrCodeAnalysisNotFound     ErrorCode = "ANA_001"
	ErrCodeAnalysisInvalidState ErrorCode = "ANA_002"
	ErrCodeAnalysisFailed       ErrorCode = "ANA_003"
)

// Persistence error codes.
const (
	ErrCodeStoreConnectionFailed ErrorCode = "STO_001"
	ErrCodeStoreQueryFailed      ErrorCode = "STO_002"
	ErrCodeStoreMigrationFailed  ErrorCode = "STO_003"
	ErrCodeStoreTxFailed         ErrorCode = "STO_004"
)

// Cache error codes.
const (
	ErrCodeCacheError ErrorCode = "CAC_001"
)

// Messaging error codes.
const (
	ErrCodeMessagePublishFailed  ErrorCode = "MSG_001"
	ErrCodeMessageConsumeFailed  ErrorCode = "MSG_002"
	ErrCodeMessageInvalidPayload ErrorCode = "MSG_003"
	ErrCodeMessageConfigInvalid  ErrorCode = "MSG_004"
)

// Search index error codes.
const (
	ErrCodeSearchUnavailable ErrorCode = "SRC_001"
	ErrCodeSearchIndexFailed ErrorCode = "SRC_002"
	ErrCodeSearchQueryFailed ErrorCode = "SRC_003"
)

// Object storage error codes.
const (
	ErrCodeStorageUploadFailed   ErrorCode = "OBJ_001"
	ErrCodeStorageDownloadFailed ErrorCode = "OBJ_002"
	ErrCodeStorageObjectNotFound ErrorCode = "OBJ_003"
	ErrCodeStorageConfigInvalid  ErrorCode = "OBJ_004"
)

// Infrastructure aliases kept for readability at call sites.
const (
	CodeDBConnectionError = ErrCodeStoreConnectionFailed
	CodeDBQueryError      = ErrCodeStoreQueryFailed
	CodeCacheError        = ErrCodeCacheError
	CodeSearchError       = ErrCodeSearchQueryFailed
	CodeMessageQueueError = ErrCodeMessagePublishFailed
	CodeStorageError      = ErrCodeStorageUploadFailed
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeTaxonomyEmptyKeyword:    http.StatusInternalServerError,
	ErrCodeTaxonomyUnknownCategory: http.StatusInternalServerError,
	ErrCodeTaxonomyUnknownSeverity: http.StatusInternalServerError,
	ErrCodeTaxonomyNoRules:         http.StatusInternalServerError,
	ErrCodeTaxonomyFileInvalid:     http.StatusInternalServerError,

	ErrCodeEngineConfigInvalid: http.StatusInternalServerError,

	ErrCodeClassifierUnavailable:     http.StatusServiceUnavailable,
	ErrCodeClassifierInferenceFailed: http.StatusInternalServerError,
	ErrCodeClassifierProviderUnknown: http.StatusInternalServerError,
	ErrCodeClassifierBadResponse:     http.StatusBadGateway,

	ErrCodeExtractUnsupportedFormat: http.StatusUnsupportedMediaType,
	ErrCodeExtractFailed:            http.StatusUnprocessableEntity,
	ErrCodeExtractEmptyText:         http.StatusUnprocessableEntity,

	ErrCodeAnalysisNotFound:     http.StatusNotFound,
	ErrCodeAnalysisInvalidState: http.StatusConflict,
	ErrCodeAnalysisFailed:       http.StatusInternalServerError,

	ErrCodeStoreConnectionFailed: http.StatusInternalServerError,
	ErrCodeStoreQueryFailed:      http.StatusInternalServerError,
	ErrCodeStoreMigrationFailed:  http.StatusInternalServerError,
	ErrCodeStoreTxFailed:         http.StatusInternalServerError,

	ErrCodeCacheError: http.StatusInternalServerError,

	ErrCodeMessagePublishFailed:  http.StatusInternalServerError,
	ErrCodeMessageConsumeFailed:  http.StatusInternalServerError,
	ErrCodeMessageInvalidPayload: http.StatusBadRequest,
	ErrCodeMessageConfigInvalid:  http.StatusInternalServerError,

	ErrCodeSearchUnavailable: http.StatusServiceUnavailable,
	ErrCodeSearchIndexFailed: http.StatusInternalServerError,
	ErrCodeSearchQueryFailed: http.StatusInternalServerError,

	ErrCodeStorageUploadFailed:   http.StatusInternalServerError,
	ErrCodeStorageDownloadFailed: http.StatusInternalServerError,
	ErrCodeStorageObjectNotFound: http.StatusNotFound,
	ErrCodeStorageConfigInvalid:  http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeTaxonomyEmptyKeyword:    "taxonomy rule has an empty keyword",
	ErrCodeTaxonomyUnknownCategory: "taxonomy rule references an unknown category",
	ErrCodeTaxonomyUnknownSeverity: "taxonomy rule references an unknown severity",
	ErrCodeTaxonomyNoRules:         "taxonomy contains no rules",
	ErrCodeTaxonomyFileInvalid:     "taxonomy file is invalid",

	ErrCodeEngineConfigInvalid: "invalid engine configuration",

	ErrCodeClassifierUnavailable:     "classifier not available",
	ErrCodeClassifierInferenceFailed: "classifier inference failed",
	ErrCodeClassifierProviderUnknown: "unknown classifier provider",
	ErrCodeClassifierBadResponse:     "classifier returned a malformed response",

	ErrCodeExtractUnsupportedFormat: "unsupported document format",
	ErrCodeExtractFailed:            "text extraction failed",
	ErrCodeExtractEmptyText:         "document contains no extractable text",

	ErrCodeAnalysisNotFound:     "analysis not found",
	ErrCodeAnalysisInvalidState: "invalid analysis state transition",
	ErrCodeAnalysisFailed:       "analysis failed",

	ErrCodeStoreConnectionFailed: "database connection failed",
	ErrCodeStoreQueryFailed:      "database query failed",
	ErrCodeStoreMigrationFailed:  "database migration failed",
	ErrCodeStoreTxFailed:         "database transaction failed",

	ErrCodeCacheError: "cache error",

	ErrCodeMessagePublishFailed:  "failed to publish message",
	ErrCodeMessageConsumeFailed:  "failed to consume message",
	ErrCodeMessageInvalidPayload: "invalid message payload",
	ErrCodeMessageConfigInvalid:  "invalid messaging configuration",

	ErrCodeSearchUnavailable: "search backend unavailable",
	ErrCodeSearchIndexFailed: "failed to index document",
	ErrCodeSearchQueryFailed: "search query failed",

	ErrCodeStorageUploadFailed:   "object upload failed",
	ErrCodeStorageDownloadFailed: "object download failed",
	ErrCodeStorageObjectNotFound: "object not found",
	ErrCodeStorageConfigInvalid:  "invalid object storage configuration",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
