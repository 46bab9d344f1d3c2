package login

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, validateBaseURL("https://portal.example.com/api"))
	assert.NoError(t, validateBaseURL(" http://localhost:3000/api "))
	assert.NoError(t, validateBaseURL("/api"))
	assert.Error(t, validateBaseURL(""))
	assert.Error(t, validateBaseURL("portal.example.com"))
	assert.Error(t, validateBaseURL("ftp://portal.example.com"))
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, validateToken(" opaque-session "))
	assert.Error(t, validateToken(""))

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "7",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("any"))
	require.NoError(t, err)
	assert.Error(t, validateToken(expired))
}

func TestIdleFormIgnoresInput(t *testing.T) {
	m := New(80, 24)
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, m.View())
}

func TestStartPrefillsAndShowsMessage(t *testing.T) {
	m := New(80, 24)
	m.fb.token = "left over"
	m.Start("https://portal.example.com/api", "Session expired. Sign in again.")

	assert.Equal(t, "https://portal.example.com/api", m.fb.baseURL)
	assert.Empty(t, m.fb.token)
	view := m.View()
	assert.Contains(t, view, "Sign in to the warranty portal")
	assert.Contains(t, view, "Session expired. Sign in again.")
}

func TestFormWidthBounds(t *testing.T) {
	assert.Equal(t, 40, New(20, 10).formWidth())
	assert.Equal(t, 76, New(80, 10).formWidth())
	assert.Equal(t, 100, New(300, 10).formWidth())
}
