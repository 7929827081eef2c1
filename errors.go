package reagent

import "errors"

var (
	ErrInvalidTool      = errors.New("invalid tool specification")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoProvider       = errors.New("no provider available")
	ErrExhausted        = errors.New("iteration budget exhausted")
)
