package auth

import "errors"

var (
	ErrNotFound              = errors.New("auth: not found")
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
	ErrTokenInvalid          = errors.New("auth: token invalid")
	ErrTokenExpired          = errors.New("auth: token expired")
	ErrTokenRevoked          = errors.New("auth: token revoked")
	ErrInvalidOrExpiredToken = errors.New("auth: invalid or expired token")
	ErrForbidden             = errors.New("auth: forbidden")
	ErrUnauthenticated       = errors.New("auth: unauthenticated")
	ErrDelivery              = errors.New("auth: notification delivery failed")
	ErrInvalidInput          = errors.New("auth: invalid input")
	ErrConflict              = errors.New("auth: conflict")
	ErrUnavailable           = errors.New("auth: store unavailable")
)

// Kind classifies an error into the auth taxonomy.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidCredentials
	KindTokenInvalid
	KindTokenExpired
	KindInvalidOrExpiredToken
	KindForbidden
	KindUnauthenticated
	KindDeliveryFailure
	KindInvalidInput
	KindConflict
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindNotFound:              "not_found",
	KindInvalidCredentials:    "invalid_credentials",
	KindTokenInvalid:          "token_invalid",
	KindTokenExpired:          "token_expired",
	KindInvalidOrExpiredToken: "invalid_or_expired_token",
	KindForbidden:             "forbidden",
	KindUnauthenticated:       "unauthenticated",
	KindDeliveryFailure:       "delivery_failure",
	KindInvalidInput:          "invalid_input",
	KindConflict:              "conflict",
	KindUnavailable:           "unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// KindOf returns the taxonomy kind of err. Revoked session tokens report
// KindTokenExpired: both are "this token was valid once and is not anymore".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrTokenInvalid):
		return KindTokenInvalid
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRevoked):
		return KindTokenExpired
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return KindInvalidOrExpiredToken
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrDelivery):
		return KindDeliveryFailure
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// IsAuthentication reports whether err means the caller could not be
// identified, as opposed to being identified and denied.
func IsAuthentication(err error) bool {
	switch KindOf(err) {
	case KindUnauthenticated, KindTokenInvalid, KindTokenExpired:
		return true
	}
	return false
}
