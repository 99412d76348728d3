// internal/netimport/errors.go
package netimport

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL            = errors.New("netimport: invalid url")
	ErrSchemeNotAllowed      = errors.New("netimport: scheme not allowed")
	ErrLoopbackBlocked       = errors.New("netimport: loopback host blocked")
	ErrPrivateAddressBlocked = errors.New("netimport: host resolves to a blocked address")
	ErrUnresolvableHost      = errors.New("netimport: host cannot be resolved")

	ErrTimeout          = errors.New("netimport: fetch timed out")
	ErrHTTPStatus       = errors.New("netimport: unexpected http status")
	ErrTooLarge         = errors.New("netimport: response exceeds size limit")
	ErrTooManyRedirects = errors.New("netimport: too many redirects")
	ErrNoPageImage      = errors.New("netimport: page contains no image")
)

// Reason says why the guard rejected a URL
type Reason string

const (
	ReasonInvalidURL       Reason = "invalid_url"
	ReasonSchemeNotAllowed Reason = "scheme_not_allowed"
	ReasonLoopback         Reason = "loopback_blocked"
	ReasonPrivateAddress   Reason = "private_address_blocked"
	ReasonUnresolvable     Reason = "unresolvable_host"
)

var reasonErrors = map[Reason]error{
	ReasonInvalidURL:       ErrInvalidURL,
	ReasonSchemeNotAllowed: ErrSchemeNotAllowed,
	ReasonLoopback:         ErrLoopbackBlocked,
	ReasonPrivateAddress:   ErrPrivateAddressBlocked,
	ReasonUnresolvable:     ErrUnresolvableHost,
}

// RejectedError is returned by the guard for every URL it refuses
type RejectedError struct {
	URL    string
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("netimport: %s rejected: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("netimport: %s rejected: %s (%s)", e.URL, e.Reason, e.Detail)
}

func (e *RejectedError) Unwrap() error { return reasonErrors[e.Reason] }

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("netimport: GET %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrHTTPStatus }
