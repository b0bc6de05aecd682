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
		name    string
		spec    string
		want    time.Time
		wantErr string
	}{
		{name: "duration", spec: "1h30m", want: now.Add(-90 * time.Minute)},
		{name: "rfc3339", spec: "2025-10-29T13:00:00Z", want: time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)},
		{name: "fractional seconds", spec: "2025-10-29T13:00:00.5Z", want: time.Date(2025, 10, 29, 13, 0, 0, 500000000, time.UTC)},
		{name: "empty", spec: "", wantErr: "empty"},
		{name: "negative", spec: "-1h", wantErr: "negative duration"},
		{name: "garbage", spec: "yesterday", wantErr: "invalid time specification"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, r.IsOpen())

	r, err = ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.True(t, r.Contains(now.Add(-90*time.Minute)))
	assert.True(t, r.Contains(now.Add(-time.Hour)))
	assert.False(t, r.Contains(now.Add(-3*time.Hour)))
	assert.False(t, r.Contains(now))

	_, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, err = ParseRange("soon", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, err = ParseRange("", "later", now)
	assert.ErrorContains(t, err, "invalid --until")
}

func TestRangeOpenEnds(t *testing.T) {
	r := Range{Since: now}
	assert.True(t, r.Contains(now.Add(time.Hour)))
	assert.False(t, r.Contains(now.Add(-time.Second)))

	r = Range{Until: now}
	assert.True(t, r.Contains(time.Time{}))
	assert.False(t, r.Contains(now.Add(time.Nanosecond)))
}
