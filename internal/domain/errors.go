package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrCoverage     = errors.New("price bars do not cover trade window")
	ErrNoSamples    = errors.New("no price samples within trade window")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")
)
