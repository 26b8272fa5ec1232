package logic

import "errors"

// ErrNilStore is returned when a selector or recorder is used without a store.
var ErrNilStore = errors.New("store is nil")
