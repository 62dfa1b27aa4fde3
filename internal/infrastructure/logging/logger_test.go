package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"debug", "debug", false},
		{"WARN", "warn", false},
		{"error", "error", false},
		{"loud", "info", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, l.String())
		})
	}
}

func TestFromSettings(t *testing.T) {
	assert.Equal(t, "warn", FromSettings("warn", false).Level())
	assert.Equal(t, "info", FromSettings("nonsense", false).Level())
	assert.Equal(t, "debug", FromSettings("", true).Level())
}

func TestSetLevel(t *testing.T) {
	l, err := New(Config{Level: "info"})
	require.NoError(t, err)

	require.NoError(t, l.SetLevel("error"))
	assert.Equal(t, "error", l.Level())
	assert.Error(t, l.SetLevel("bogus"))
	assert.Equal(t, "error", l.Level())
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "bogus"})
	assert.Error(t, err)
	assert.NotNil(t, Nop().Logger)
}
