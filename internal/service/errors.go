package service

import "errors"

// Domain errors. Callers match them with errors.Is; the message after the
// sentinel carries the detail.
var (
	ErrValidation      = errors.New("validation failed")
	ErrTypeImmutable   = errors.New("flag type is immutable")
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrTransientStore  = errors.New("store unavailable")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")

	ErrSlowConsumer = errors.New("subscriber buffer full")
	ErrHubClosed    = errors.New("hub closed")

	ErrStoreUnhealthy = errors.New("store unhealthy")
	ErrEtcdUnhealthy  = errors.New("etcd unhealthy")
)
