package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
whatsapp:
  phone_number_id: "123456"
  access_token: "token"
  template_name: "conversation_resume"
  send_retry_attempts: 5
  send_retry_delay: 3s
engine:
  step_limit: 50
  session_ttl: 12h
`), 0o600))

	config, err := LoadWorkerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "123456", config.WhatsApp.PhoneNumberID)
	assert.Equal(t, 5, config.WhatsApp.SendRetryAttempts)
	assert.Equal(t, 3*time.Second, config.WhatsApp.SendRetryDelay.Std())
	assert.Equal(t, 50, config.Engine.StepLimit)
	assert.Equal(t, 12*time.Hour, config.Engine.SessionTTL.Std())
}

func TestLoadWorkerConfig_MissingFile(t *testing.T) {
	_, err := LoadWorkerConfig("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestLoadWorkerConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("whatsapp: ["), 0o600))

	_, err := LoadWorkerConfig(path)
	assert.Error(t, err)
}
