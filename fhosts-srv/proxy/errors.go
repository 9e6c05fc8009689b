package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// Error represents a proxy-specific error with a code and description
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Proxy Error Codes
const (
	// Lifecycle Errors (E1000-E1999)
	ErrCodeListenerCreateFailed = "E1001"

	// Connection and Network Errors (E2000-E2999)
	ErrCodeInvalidAddress        = "E2001"
	ErrCodeDialFailed            = "E2002"
	ErrCodeUpstreamConnectFailed = "E2003"
	ErrCodeSOCKS5DialerFailed    = "E2004"

	// HTTP Processing Errors (E3000-E3999)
	ErrCodeHTTPForwardFailed      = "E3001"
	ErrCodeHTTPHijackFailed       = "E3002"
	ErrCodeHTTPHijackNotSupported = "E3003"

	// Internal Errors (E9900-E9999)
	ErrCodeInternalError = "E9901"
)

// ErrorDescriptions maps error codes to human-readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeListenerCreateFailed: "Failed to create network listener",

	ErrCodeInvalidAddress:        "Invalid network address format",
	ErrCodeDialFailed:            "Failed to dial target address",
	ErrCodeUpstreamConnectFailed: "Failed to connect to upstream server",
	ErrCodeSOCKS5DialerFailed:    "Failed to create SOCKS5 dialer",

	ErrCodeHTTPForwardFailed:      "Failed to forward HTTP request",
	ErrCodeHTTPHijackFailed:       "Failed to hijack HTTP connection",
	ErrCodeHTTPHijackNotSupported: "HTTP connection hijacking not supported",

	ErrCodeInternalError: "Internal proxy error",
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

// NewBadGatewayResponse creates an HTTP 502 Bad Gateway response from an
// error code, with the code and its description in an HTML body.
func NewBadGatewayResponse(errorCode string) *http.Response {
	description := GetErrorDescription(errorCode)
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>502 Bad Gateway</title></head>
<body>
<h1>502 Bad Gateway</h1>
<p>The proxy could not reach the requested upstream server.</p>
<p>Error Code: %s</p>
<p>Description: %s</p>
</body>
</html>`, errorCode, description)

	bodyBytes := []byte(htmlBody)

	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", fmt.Sprintf("%d", len(bodyBytes)))

	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Status:     "502 Bad Gateway",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(bodyBytes)),
	}
}

// writeProxyErrorResponse answers a failed request with a 502 body built
// from the error's code, falling back to defaultErrorCode.
func writeProxyErrorResponse(w http.ResponseWriter, originalErr error, defaultErrorCode string) {
	errorCode := defaultErrorCode
	if proxyErr, ok := originalErr.(*Error); ok {
		errorCode = proxyErr.Code
	}

	resp := NewBadGatewayResponse(errorCode)
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Error("Failed to copy bad gateway response body: %v", err)
		}
	}
}
