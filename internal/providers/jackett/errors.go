package jackett

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

type ErrorKind string

const (
	KindConfig       ErrorKind = "config"
	KindConnectivity ErrorKind = "connectivity"
	KindAPI          ErrorKind = "api"
	KindUnknown      ErrorKind = "unknown"
)

const (
	connectivityMessage = "Connection failed. This is often a CORS issue: make sure cross-origin access is enabled in the Jackett server settings, and verify the server address is correct and reachable."
	unknownMessage      = "An unknown error occurred during fetch."
	invalidKeyMessage   = "Invalid API key. Please check your Jackett settings."
)

// Error is the user-facing failure of a Jackett call. Message is meant to be
// shown verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

func NewAPIError(message, code string, status int) *Error {
	return &Error{Kind: KindAPI, Message: message, Code: code, Status: status}
}

// KindOf reports the kind of a classified error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) && typed != nil {
		return typed.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	var typed *Error
	return errors.As(err, &typed) && typed != nil && typed.Kind == kind
}

// Classify maps any failure into a user-facing *Error. It never returns nil.
// A request that produced no HTTP response at all is reported as a likely
// CORS/connectivity problem; the cause cannot be told apart from DNS or
// firewall failures at this layer.
func Classify(cause error) *Error {
	if cause == nil {
		return &Error{Kind: KindUnknown, Message: unknownMessage}
	}
	var typed *Error
	if errors.As(cause, &typed) && typed != nil {
		return typed
	}
	if isTransportFailure(cause) {
		return &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: cause}
	}
	if message := cause.Error(); strings.TrimSpace(message) != "" {
		return &Error{Kind: KindUnknown, Message: message, Err: cause}
	}
	return &Error{Kind: KindUnknown, Message: unknownMessage, Err: cause}
}

func isTransportFailure(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
