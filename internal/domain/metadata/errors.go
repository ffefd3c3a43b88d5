package metadata

import "errors"

// ErrClassificationMiss is returned when a path does not map to any known metadata type
// or no member name can be derived from it. Callers log it and skip the path.
var ErrClassificationMiss = errors.New("unrecognized metadata path")
