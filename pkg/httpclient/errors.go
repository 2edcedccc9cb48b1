package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// errorBody covers both the `{"error":{"code","message"}}` envelope and the
// flat `{"code","message","details","hint"}` body PostgREST returns.
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details"`
	Envelope *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and translates it into an
// error. 404, 400, 409 and 503 keep their meaning through apperrors; anything
// else is a plain error carrying the status and body. The body is consumed
// and closed.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", upstream, resp.StatusCode, err)
	}

	var body errorBody
	if json.Unmarshal(raw, &body) != nil {
		return fmt.Errorf("%s returned status %d: %s", upstream, resp.StatusCode, string(raw))
	}
	code, message := body.Code, body.Message
	if body.Envelope != nil {
		code, message = body.Envelope.Code, body.Envelope.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return mapStatus(resp.StatusCode, code, message, upstream)
}

func mapStatus(status int, code, message, upstream string) error {
	qualified := fmt.Sprintf("%s: %s", upstream, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(upstream, message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualified)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualified)
	default:
		return fmt.Errorf("%s returned status %d (%s): %s", upstream, status, code, message)
	}
}
