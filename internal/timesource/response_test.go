package timesource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    time.Time
		wantErr bool
	}{
		{
			name: "worldtimeapi unixtime",
			body: `{"abbreviation":"UTC","unixtime":1767225600,"utc_offset":"+00:00"}`,
			want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "fractional unixtime",
			body: `{"unixtime":1767225600.5}`,
			want: time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC),
		},
		{
			name: "timeapi dateTime without zone",
			body: `{"year":2026,"dateTime":"2026-01-01T08:30:00.1234567","timeZone":"UTC"}`,
			want: time.Date(2026, 1, 1, 8, 30, 0, 123456700, time.UTC),
		},
		{
			name: "dateTime with Z",
			body: `{"dateTime":"2026-01-01T08:30:00Z"}`,
			want: time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name: "dateTime with offset",
			body: `{"dateTime":"2026-01-01T10:30:00+02:00"}`,
			want: time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC),
		},
		{
			name: "unixtime wins over dateTime",
			body: `{"unixtime":0,"dateTime":"2026-01-01T08:30:00Z"}`,
			want: time.Unix(0, 0).UTC(),
		},
		{name: "not json", body: `<html>`, wantErr: true},
		{name: "no time fields", body: `{"timezone":"UTC"}`, wantErr: true},
		{name: "bad dateTime", body: `{"dateTime":"yesterday"}`, wantErr: true},
		{name: "empty object", body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedResponse))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}
