package client

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/d4mr/coredrain/config/params"
	"github.com/pkg/errors"
)

// ErrMalformedHostname is returned when a host is not a url or host:port pair.
var ErrMalformedHostname = errors.New("hostname must include port, separated by one colon, like example.com:3500")

// ErrNotOK is used to indicate when an HTTP request to the API failed with any non-2xx response code.
var ErrNotOK = errors.New("did not receive 2xx response from API")

// ErrNotFound specifically means that a '404 - NOT FOUND' response was received from the API.
var ErrNotFound = errors.Wrap(ErrNotOK, "recv 404 NotFound response from API")

// ErrBadRequest specifically means that a '400 - BAD REQUEST' response was received from the API.
var ErrBadRequest = errors.Wrap(ErrNotOK, "recv 400 BadRequest response from API")

// RateLimitError is returned on a 429 response. RetryAfter carries the
// duration the server asked us to stay away, or the configured default when
// the Retry-After header is absent or unparseable.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by API, retry after %s", e.RetryAfter)
}

func rateLimitErr(response *http.Response) error {
	retryAfter := params.BridgeConfig().DefaultRetryAfter
	if v := response.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

// Non200Err is a function that parses an HTTP response to handle responses that are not 200 with a formatted error.
func Non200Err(response *http.Response) error {
	bodyBytes, err := io.ReadAll(response.Body)
	var body string
	if err != nil {
		body = "(Unable to read response body.)"
	} else {
		body = "response body:\n" + string(bodyBytes)
	}
	msg := fmt.Sprintf("code=%d, url=%s, %s", response.StatusCode, response.Request.URL, body)
	switch response.StatusCode {
	case http.StatusNotFound:
		return errors.Wrap(ErrNotFound, msg)
	case http.StatusBadRequest:
		return errors.Wrap(ErrBadRequest, msg)
	default:
		return errors.Wrap(ErrNotOK, msg)
	}
}
