package errors_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/defectwise/defectwise/pkg/errors"
)

func TestErrorCode_StringValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code     errors.ErrorCode
		expected string
	}{
		{errors.ErrCodeInternal, "COMMON_001"},
		{errors.ErrCodeBadRequest, "COMMON_002"},
		{errors.ErrCodeNotFound, "COMMON_005"},
		{errors.ErrCodeValidation, "COMMON_010"},
		{errors.ErrCodeTaxonomyEmptyKeyword, "TAX_001"},
		{errors.ErrCodeTaxonomyNoRules, "TAX_004"},
		{errors.ErrCodeEngineConfigInvalid, "ENG_001"},
		{errors.ErrCodeClassifierUnavailable, "CLS_001"},
		{errors.ErrCodeExtractUnsupportedFormat, "EXT_001"},
		{errors.ErrCodeAnalysisNotFound, "ANA_001"},
		{errors.ErrCodeStoreConnectionFailed, "STO_001"},
		{errors.ErrCodeCacheError, "CAC_001"},
		{errors.ErrCodeMessagePublishFailed, "MSG_001"},
		{errors.ErrCodeSearchUnavailable, "SRC_001"},
		{errors.ErrCodeStorageObjectNotFound, "OBJ_003"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, string(tc.code))
		})
	}
}

func TestHTTPStatusForCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		code     errors.ErrorCode
		expected int
	}{
		{"internal maps to 500", errors.ErrCodeInternal, http.StatusInternalServerError},
		{"bad request maps to 400", errors.ErrCodeBadRequest, http.StatusBadRequest},
		{"not found maps to 404", errors.ErrCodeNotFound, http.StatusNotFound},
		{"conflict maps to 409", errors.ErrCodeConflict, http.StatusConflict},
		{"rate limit maps to 429", errors.ErrCodeTooManyRequests, http.StatusTooManyRequests},
		{"validation maps to 422", errors.ErrCodeValidation, http.StatusUnprocessableEntity},
		{"analysis not found maps to 404", errors.ErrCodeAnalysisNotFound, http.StatusNotFound},
		{"analysis invalid state maps to 409", errors.ErrCodeAnalysisInvalidState, http.StatusConflict},
		{"extract unsupported maps to 415", errors.ErrCodeExtractUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"classifier unavailable maps to 503", errors.ErrCodeClassifierUnavailable, http.StatusServiceUnavailable},
		{"taxonomy empty keyword maps to 500", errors.ErrCodeTaxonomyEmptyKeyword, http.StatusInternalServerError},
		{"storage object not found maps to 404", errors.ErrCodeStorageObjectNotFound, http.StatusNotFound},
		{"unmapped code defaults to 500", errors.ErrorCode("NOPE_999"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, errors.HTTPStatusForCode(tc.code))
		})
	}
}

func TestDefaultMessageForCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "resource not found", errors.DefaultMessageForCode(errors.ErrCodeNotFound))
	assert.Equal(t, "analysis not found", errors.DefaultMessageForCode(errors.ErrCodeAnalysisNotFound))
	assert.Equal(t, "unknown error", errors.DefaultMessageForCode(errors.ErrorCode("NOPE_999")),
		"unmapped codes should fall back to the generic message")
}

func TestIsClientError(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsClientError(errors.ErrCodeBadRequest))
	assert.True(t, errors.IsClientError(errors.ErrCodeNotFound))
	assert.True(t, errors.IsClientError(errors.ErrCodeValidation))
	assert.False(t, errors.IsClientError(errors.ErrCodeInternal))
	assert.False(t, errors.IsClientError(errors.ErrCodeStoreQueryFailed))
}

func TestIsServerError(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsServerError(errors.ErrCodeInternal))
	assert.True(t, errors.IsServerError(errors.ErrCodeClassifierUnavailable))
	assert.False(t, errors.IsServerError(errors.ErrCodeNotFound))
	assert.False(t, errors.IsServerError(errors.ErrCodeBadRequest))
}

func TestModuleForCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code     errors.ErrorCode
		expected string
	}{
		{errors.ErrCodeInternal, "COMMON"},
		{errors.ErrCodeTaxonomyEmptyKeyword, "TAX"},
		{errors.ErrCodeEngineConfigInvalid, "ENG"},
		{errors.ErrCodeClassifierInferenceFailed, "CLS"},
		{errors.ErrCodeExtractFailed, "EXT"},
		{errors.ErrCodeAnalysisFailed, "ANA"},
		{errors.ErrCodeStoreMigrationFailed, "STO"},
		{errors.ErrCodeCacheError, "CAC"},
		{errors.ErrCodeMessageConsumeFailed, "MSG"},
		{errors.ErrCodeSearchIndexFailed, "SRC"},
		{errors.ErrCodeStorageUploadFailed, "OBJ"},
		{errors.CodeUnknown, "UNKNOWN"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.code), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, errors.ModuleForCode(tc.code))
		})
	}
}
