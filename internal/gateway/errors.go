package gateway

import "errors"

var (
	ErrTimeout  = errors.New("request timed out")
	ErrUpstream = errors.New("upstream provider error")
)
