package core

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidTenant is returned before any pipeline is built when the
	// request carries no tenant.
	ErrInvalidTenant = errors.New("Invalid Tenant")

	// ErrNotFound is returned by single record reads that matched nothing.
	ErrNotFound = errors.New("not found")
)
