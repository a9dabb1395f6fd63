package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesWrappedErrors(t *testing.T) {
	base := NewCapture("webcam", errors.New("device busy"))
	wrapped := fmt.Errorf("start session: %w", base)

	require.True(t, Is(wrapped, CodeCapture))
	require.False(t, Is(wrapped, CodeRender))
	require.False(t, Is(errors.New("plain"), CodeCapture))
	require.Contains(t, wrapped.Error(), "webcam stream failed")
	require.Contains(t, wrapped.Error(), "device busy")
}

func TestWarningStringSortsDetails(t *testing.T) {
	w := SyncWarning("dimension mismatch", map[string]any{"source": "4480x1440", "monitor": "1920x1080"})
	require.Equal(t, "dimension mismatch (monitor=1920x1080 source=4480x1440)", w.String())
	require.Equal(t, CodeSyncWarning, w.Code)
}
