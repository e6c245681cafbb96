package core

import (
	"errors"
)

var (
	ErrThreadPoolInit     = errors.New("one or more worker threads failed to initialize")
	ErrThreadPoolClosed   = errors.New("thread pool is shutting down")
	ErrManagerClosed      = errors.New("resource manager is shut down")
	ErrResourceNotLoaded  = errors.New("resource is not loaded")
	ErrInvalidHandle      = errors.New("invalid or stale resource handle")
	ErrIdentifierReleased = errors.New("identifier is not in use")
)
