//go:build linux

package radio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLayout(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 2, 3, 0, 0}, event(false))
	assert.Equal(t, []byte{0, 0, 0, 0, 2, 3, 1, 0}, event(true))
}

func TestUnblockWritesEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfkill")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	log, _ := test.NewNullLogger()
	r := New(path, log.WithField("component", "radio"))
	require.NoError(t, r.Unblock())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, event(false), got)
}

func TestMissingDevice(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := New(filepath.Join(t.TempDir(), "absent"), log.WithField("component", "radio"))
	assert.Error(t, r.Unblock())
}
