package restyutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactFormBody(t *testing.T) {
	body := "csrfmiddlewaretoken=abc&login=pos%40company&password=hunter2&remember=1"
	require.Equal(
		t,
		"csrfmiddlewaretoken=<redacted>&login=pos%40company&password=<redacted>&remember=1",
		redactFormBody(body),
	)
}

func TestFormatHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Content-Type", "text/html")
	headers.Set("Cookie", "sessionid=secret")
	require.Equal(t, "Content-Type: text/html\nCookie: <redacted 16 bytes>", formatHeaders(headers))
	require.Equal(t, "", formatHeaders(http.Header{}))
}
