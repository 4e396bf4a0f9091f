package merge

import "errors"

// ErrUnknownArrayMergeOption is returned by ParseArrayMergeOption for unsupported strategies.
var ErrUnknownArrayMergeOption = errors.New("unknown array merge option")
