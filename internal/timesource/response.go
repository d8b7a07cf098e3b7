package timesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize bounds how much of a time response is read.
const maxResponseSize = 64 << 10

// ErrMalformedResponse is returned when a response carries no usable time.
var ErrMalformedResponse = errors.New("malformed time response")

// timeResponse covers both supported shapes: worldtimeapi.org sends
// unixtime, timeapi.io sends dateTime.
type timeResponse struct {
	UnixTime json.Number `json:"unixtime"`
	DateTime string      `json:"dateTime"`
}

// Fetch queries one endpoint and returns the time it reports.
func Fetch(ctx context.Context, client Doer, endpoint string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("request time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return time.Time{}, fmt.Errorf("read response: %w", err)
	}

	return ParseResponse(body)
}

// ParseResponse extracts the current time from a time source response body.
func ParseResponse(body []byte) (time.Time, error) {
	var r timeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if r.UnixTime != "" {
		secs, err := r.UnixTime.Float64()
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return time.Time{}, fmt.Errorf("%w: unixtime %q", ErrMalformedResponse, r.UnixTime)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}

	if r.DateTime != "" {
		return parseDateTime(r.DateTime)
	}

	return time.Time{}, fmt.Errorf("%w: no unixtime or dateTime field", ErrMalformedResponse)
}

// parseDateTime accepts ISO-8601 with or without a zone; no zone means UTC.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: dateTime %q", ErrMalformedResponse, s)
}
