package persistor

import "errors"

// ErrStoreFailure marks a batch whose durable write exhausted its retries.
// Fatal to the owning pull task: continuing would acknowledge past data that
// was never stored. Sibling tasks are unaffected.
var ErrStoreFailure = errors.New("failed to save batch to storage")
