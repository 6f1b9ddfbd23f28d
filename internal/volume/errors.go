package volume

import "errors"

// ErrNoVolumes is returned by a Policy when the configured volume list is
// empty; there is nothing to select from.
var ErrNoVolumes = errors.New("volume: no volumes configured")
