package service

import "errors"

var (
	ErrNoHoldings          = errors.New("error no holdings supplied")
	ErrExportNotConfigured = errors.New("error report export is not configured")
)
