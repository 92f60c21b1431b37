package domain

import "errors"

var (
	ErrNotFound           = errors.New("qr not found")
	ErrExpired            = errors.New("qr expired")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidQRID        = errors.New("missing or invalid qrId")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)
