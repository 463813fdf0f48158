package transport

import "time"

// nowRFC3339 is overridable by tests needing a deterministic clock
// (mirrors pkg/merge/state.go's nowRFC3339 pattern).
var nowRFC3339 = func() string { return time.Now().UTC().Format(time.RFC3339) }
