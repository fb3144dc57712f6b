package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the discovery pipeline can surface.
type ErrorKind string

const (
	ErrKindPermissionDenied    ErrorKind = "PermissionDenied"
	ErrKindServicesDisabled    ErrorKind = "ServicesDisabled"
	ErrKindPositionUnavailable ErrorKind = "PositionUnavailable"
	ErrKindTimeout             ErrorKind = "Timeout"
	ErrKindAddressUnavailable  ErrorKind = "AddressUnavailable"
	ErrKindMissingCoordinates  ErrorKind = "MissingCoordinates"
	ErrKindValidation          ErrorKind = "ValidationError"
	ErrKindAuthRequired        ErrorKind = "AuthRequired"
	ErrKindSearchFailed        ErrorKind = "SearchFailed"
)

// NetworkKind is the upstream failure category kept on SearchFailed.
type NetworkKind string

const (
	NetworkKindNetwork NetworkKind = "network"
	NetworkKindClient  NetworkKind = "client"
	NetworkKindServer  NetworkKind = "server"
)

// NetworkKindForStatus maps an HTTP status to its category. Zero means the
// request never produced a response.
func NetworkKindForStatus(status int) NetworkKind {
	switch {
	case status >= 400 && status < 500:
		return NetworkKindClient
	case status >= 500:
		return NetworkKindServer
	default:
		return NetworkKindNetwork
	}
}

// DiscoveryError is the typed error returned by the pipeline's components.
type DiscoveryError struct {
	Kind        ErrorKind
	NetworkKind NetworkKind
	StatusCode  int
	Message     string
	Err         error
}

func (e *DiscoveryError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.NetworkKind != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("%s(%s, HTTP %d): %s", e.Kind, e.NetworkKind, e.StatusCode, msg)
		}
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.NetworkKind, msg)
	}
	if msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Is matches any DiscoveryError of the same kind, so the sentinels below work
// with errors.Is regardless of message or cause.
func (e *DiscoveryError) Is(target error) bool {
	t, ok := target.(*DiscoveryError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewDiscoveryError builds an error of the given kind.
func NewDiscoveryError(kind ErrorKind, msg string) error {
	return &DiscoveryError{Kind: kind, Message: msg}
}

// WrapDiscoveryError builds an error of the given kind around cause.
func WrapDiscoveryError(kind ErrorKind, msg string, cause error) error {
	return &DiscoveryError{Kind: kind, Message: msg, Err: cause}
}

// NewSearchFailed builds a SearchFailed error keeping the upstream category.
func NewSearchFailed(status int, msg string, cause error) error {
	return &DiscoveryError{
		Kind:        ErrKindSearchFailed,
		NetworkKind: NetworkKindForStatus(status),
		StatusCode:  status,
		Message:     msg,
		Err:         cause,
	}
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied    = &DiscoveryError{Kind: ErrKindPermissionDenied}
	ErrServicesDisabled    = &DiscoveryError{Kind: ErrKindServicesDisabled}
	ErrPositionUnavailable = &DiscoveryError{Kind: ErrKindPositionUnavailable}
	ErrTimeout             = &DiscoveryError{Kind: ErrKindTimeout}
	ErrAddressUnavailable  = &DiscoveryError{Kind: ErrKindAddressUnavailable}
	ErrMissingCoordinates  = &DiscoveryError{Kind: ErrKindMissingCoordinates}
	ErrValidation          = &DiscoveryError{Kind: ErrKindValidation}
	ErrAuthRequired        = &DiscoveryError{Kind: ErrKindAuthRequired}
	ErrSearchFailed        = &DiscoveryError{Kind: ErrKindSearchFailed}
)

// KindOf extracts the ErrorKind from err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// NetworkKindOf extracts the upstream category of a SearchFailed error.
func NetworkKindOf(err error) NetworkKind {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de.NetworkKind
	}
	return ""
}
