package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestParseStandardHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "7")
	headers.Set("X-RateLimit-Reset", "1700000000")
	headers.Set("X-RateLimit-Remaining", "42")

	info := ParseStandardHeaders(headers)

	if info.RetryAfter != 7*time.Second {
		t.Errorf("Expected RetryAfter=7s, got %v", info.RetryAfter)
	}
	if info.ResetTime != 1700000000 {
		t.Errorf("Expected ResetTime=1700000000, got %d", info.ResetTime)
	}
	if info.RequestsRemaining != 42 {
		t.Errorf("Expected RequestsRemaining=42, got %d", info.RequestsRemaining)
	}
}

func TestParseStandardHeadersEmpty(t *testing.T) {
	info := ParseStandardHeaders(http.Header{})

	if info.RetryAfter != 0 || info.ResetTime != 0 || info.RequestsRemaining != 0 {
		t.Errorf("Expected zero info for empty headers, got %+v", info)
	}
}

func TestParseStandardHeadersHTTPDate(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))

	info := ParseStandardHeaders(headers)
	if info.RetryAfter <= 0 || info.RetryAfter > 31*time.Second {
		t.Errorf("Expected RetryAfter near 30s, got %v", info.RetryAfter)
	}
}

func TestRetryableErrorMessage(t *testing.T) {
	err := &RetryableError{StatusCode: 503, Message: "max HTTP retries (3) exceeded"}
	want := "HTTP 503: max HTTP retries (3) exceeded"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	withAfter := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 5 * time.Second}
	if withAfter.Error() != "HTTP 429: rate limited (retry after 5s)" {
		t.Errorf("unexpected message: %q", withAfter.Error())
	}
}
