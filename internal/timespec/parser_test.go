package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 14, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want time.Time
	}{
		{"duration", "1h", now.Add(-time.Hour)},
		{"compound duration", "1h30m", now.Add(-90 * time.Minute)},
		{"rfc3339", "2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "-5m", "2025-10-29"} {
		_, err := Parse(spec, now)
		assert.Error(t, err, spec)
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour).UnixNano(), since)
	assert.Equal(t, now.Add(-time.Hour).UnixNano(), until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)
}

func TestParseRange_Errors(t *testing.T) {
	_, _, err := ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = ParseRange("nope", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "nope", now)
	assert.ErrorContains(t, err, "invalid --until")
}
