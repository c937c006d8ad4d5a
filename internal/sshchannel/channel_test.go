package sshchannel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnectFailsAfterRetries exercises the full retry budget against a
// port nobody is listening on. Connection refusal is immediate, so the
// three attempts are separated only by the 500ms/1000ms backoff windows.
func TestConnectFailsAfterRetries(t *testing.T) {
	ch := New(Config{
		Host:           "127.0.0.1",
		Port:           1, // reserved; nothing listens here
		Password:       "irrelevant",
		ConnectTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	err := ch.Connect(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, errors.Is(err, ErrConnectionFailed))

	// Two backoff waits (500ms, then 1000ms) must have elapsed; allow slack
	// but require more than a single fast failure.
	assert.Greater(t, elapsed, 1200*time.Millisecond)

	assert.False(t, ch.IsConnected())
}

func TestConnectRequiresCredentials(t *testing.T) {
	ch := New(Config{Host: "127.0.0.1", ConnectTimeout: 50 * time.Millisecond})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOperationsRequireConnection(t *testing.T) {
	ch := New(Config{Host: "127.0.0.1", Password: "x"})

	_, err := ch.ListFiles("")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = ch.DownloadFile("/remote", t.TempDir()+"/local")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, _, _, err = ch.ExecuteCommand("true")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ch := New(Config{Host: "127.0.0.1", Password: "x"})
	require.NoError(t, ch.Disconnect())
	require.NoError(t, ch.Disconnect())
}
