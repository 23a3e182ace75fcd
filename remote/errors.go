package remote

import (
	stderrors "errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by every error the client returns.
const (
	CodeTransport    = "TRANSPORT_FAILURE"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeStatus       = "UNEXPECTED_STATUS"
	CodeParse        = "PARSE_FAILURE"
	CodeTooLarge     = "RESPONSE_TOO_LARGE"
)

// metadata keys
const (
	metaEndpoint = "endpoint"
	metaBody     = "body"
	metaStatus   = "status"
	metaLimit    = "limit"
)

var errBodyTooLarge = stderrors.New("response body too large")

func transportError(endpoint string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("request to %s failed", endpoint)).
		WithTextCode(CodeTransport).
		WithMetadata(map[string]any{metaEndpoint: endpoint})
}

func statusError(endpoint string, status int, body []byte) error {
	meta := map[string]any{
		metaEndpoint: endpoint,
		metaStatus:   status,
		metaBody:     string(body),
	}

	switch status {
	case http.StatusUnauthorized:
		return goerrors.New(fmt.Sprintf("%s: credential rejected", endpoint), goerrors.CategoryAuth).
			WithCode(status).
			WithTextCode(CodeUnauthorized).
			WithMetadata(meta)
	case http.StatusNotFound:
		return goerrors.New(fmt.Sprintf("%s: not found", endpoint), goerrors.CategoryNotFound).
			WithCode(status).
			WithTextCode(CodeNotFound).
			WithMetadata(meta)
	default:
		return goerrors.New(fmt.Sprintf("%s: unexpected status %d", endpoint, status), goerrors.CategoryExternal).
			WithCode(status).
			WithTextCode(CodeStatus).
			WithMetadata(meta)
	}
}

// tooLargeError is a response that did arrive but could not be read whole.
func tooLargeError(endpoint string, status int, limit int64) error {
	return goerrors.Wrap(errBodyTooLarge, goerrors.CategoryExternal, fmt.Sprintf("%s: response body exceeds %d bytes", endpoint, limit)).
		WithCode(status).
		WithTextCode(CodeTooLarge).
		WithMetadata(map[string]any{metaEndpoint: endpoint, metaStatus: status, metaLimit: limit})
}

func parseError(endpoint string, body []byte, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, fmt.Sprintf("%s: malformed response body", endpoint)).
		WithTextCode(CodeParse).
		WithMetadata(map[string]any{metaEndpoint: endpoint, metaBody: string(body)})
}

func asError(err error) (*goerrors.Error, bool) {
	var e *goerrors.Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func hasTextCode(err error, code string) bool {
	e, ok := asError(err)
	return ok && e.TextCode == code
}

// IsTransport reports a failure where no response was received.
func IsTransport(err error) bool { return hasTextCode(err, CodeTransport) }

// IsUnauthorized reports a 401 answer.
func IsUnauthorized(err error) bool { return hasTextCode(err, CodeUnauthorized) }

// IsNotFound reports a 404 answer.
func IsNotFound(err error) bool { return hasTextCode(err, CodeNotFound) }

// IsParse reports a response body that could not be decoded.
func IsParse(err error) bool { return hasTextCode(err, CodeParse) }

// IsTooLarge reports a response whose body exceeded the configured limit.
func IsTooLarge(err error) bool { return hasTextCode(err, CodeTooLarge) }

// IsStatus reports any non-2xx answer, including 401 and 404.
func IsStatus(err error) bool {
	return IsUnauthorized(err) || IsNotFound(err) || hasTextCode(err, CodeStatus)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if e, ok := asError(err); ok && e.TextCode != CodeTransport && e.TextCode != CodeParse {
		return e.Code
	}
	return 0
}

// RawBody returns the response body attached to a status or parse failure.
func RawBody(err error) string {
	e, ok := asError(err)
	if !ok || e.Metadata == nil {
		return ""
	}
	body, _ := e.Metadata[metaBody].(string)
	return body
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTransport(err):
		return "transport"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsNotFound(err):
		return "not_found"
	case IsParse(err):
		return "parse"
	case IsTooLarge(err):
		return "too_large"
	default:
		return "status"
	}
}
