package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/picturebook/pkg/apperr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{apperr.CodeInvalidRequest, http.StatusBadRequest},
		{apperr.CodeNotFound, http.StatusNotFound},
		{apperr.CodeConfiguration, http.StatusServiceUnavailable},
		{apperr.CodeUpstream, http.StatusBadGateway},
		{apperr.CodeGeneration, http.StatusInternalServerError},
		{apperr.CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.code))
		})
	}
}

func TestToErrorInfo(t *testing.T) {
	t.Run("coded error keeps message", func(t *testing.T) {
		err := fmt.Errorf("stage: %w", apperr.UpstreamStatus("custom-vision", 429, "slow down"))
		info := ToErrorInfo(err)
		assert.Equal(t, apperr.CodeUpstream, info.Code)
		assert.Equal(t, "custom-vision: unexpected status 429: slow down", info.Message)
	})

	t.Run("plain error is hidden", func(t *testing.T) {
		info := ToErrorInfo(errors.New("open /etc/secret: permission denied"))
		assert.Equal(t, apperr.CodeInternal, info.Code)
		assert.Equal(t, "internal error", info.Message)
	})
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/images", nil)

	writeError(rec, req, apperr.Generation(errors.New("cuda out of memory")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ContentTypeJSON, rec.Header().Get("Content-Type"))

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, apperr.CodeGeneration, body.Error.Code)
	assert.Contains(t, body.Error.Message, "cuda out of memory")
}
