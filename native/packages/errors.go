package packages

import "errors"

var (
	ErrUnauthorized       = errors.New("packages: unauthorized")
	ErrPackageNotFound    = errors.New("packages: package not found")
	ErrPackageInactive    = errors.New("packages: package inactive")
	ErrBpsOutOfRange      = errors.New("packages: bps out of range")
	ErrWrongPaymentAmount = errors.New("packages: payment must equal the package entry amount")
	ErrTokenNotRegistered = errors.New("packages: token not registered")
	ErrTreasuryNotSet     = errors.New("packages: treasury not configured")
)
