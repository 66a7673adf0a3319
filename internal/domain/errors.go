package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidPayment       = errors.New("invalid payment")
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrVersionConflict      = errors.New("investor was modified concurrently")
)
