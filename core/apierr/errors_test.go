package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "authentication_error"},
		{"disabled", Disabled("deepseek"), http.StatusForbidden, "provider_disabled"},
		{"not supported", NotSupported("kimi", "listModels"), http.StatusNotImplemented, "not_supported"},
		{"upstream", fmt.Errorf("send: %w", &UpstreamError{Provider: "claude", StatusCode: 500}), http.StatusBadGateway, "upstream_error"},
		{"transport", &TransportError{Provider: "qwen", Err: errors.New("reset")}, http.StatusBadGateway, "transport_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.Equal(t, tt.typ, Type(tt.err))
		})
	}
}

func TestUpstreamErrorTruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := &UpstreamError{Provider: "claude", StatusCode: 403, Body: string(long)}
	assert.Less(t, len(err.Error()), 260)
	assert.Contains(t, err.Error(), "status 403")
}
