package avoider

import "errors"

var ErrInvalidThreshold = errors.New("threshold must be positive")
