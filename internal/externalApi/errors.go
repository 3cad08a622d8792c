package externalApi

import "errors"

var ErrNotFound = errors.New("not found in upstream provider")
