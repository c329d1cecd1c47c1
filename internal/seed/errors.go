package seed

import "errors"

// ErrTableMissing indicates the jokes table does not exist yet; apply
// migrations before seeding.
var ErrTableMissing = errors.New("seed target table missing")

// ErrInvalidDataset indicates a dataset that is empty or holds blank entries.
var ErrInvalidDataset = errors.New("invalid seed dataset")
