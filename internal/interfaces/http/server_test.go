package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defectwise/defectwise/internal/config"
)

func TestNewServer_AppliesDefaults(t *testing.T) {
	s := NewServer(config.ServerConfig{Port: 8080}, http.NewServeMux(), nil)

	assert.Equal(t, ":8080", s.Addr())
	assert.Equal(t, 30*time.Second, s.srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, s.srv.WriteTimeout)
	assert.Equal(t, 15*time.Second, s.shutdownTimeout)
}

func TestNewServer_HonorsConfiguredTimeouts(t *testing.T) {
	s := NewServer(config.ServerConfig{
		Port:            9000,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, http.NewServeMux(), nil)

	assert.Equal(t, 5*time.Second, s.srv.ReadTimeout)
	assert.Equal(t, 10*time.Second, s.srv.WriteTimeout)
	assert.Equal(t, 2*time.Second, s.shutdownTimeout)
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := NewServer(config.ServerConfig{Port: 0}, http.NewServeMux(), nil)
	require.NoError(t, s.Shutdown(context.Background()))
}
