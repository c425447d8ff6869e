// Package detector implements the access-check primitive and the error
// reporter.
//
// Check is the function external instrumentation calls before every load and
// store of tracked memory. It walks the shadow bytes covering the access,
// finds the first inaccessible byte if there is one, and classifies the
// violation by the poison value it hit:
//
//	redzone / partial tail  ->  out-of-bounds (before or after a chunk)
//	freed                   ->  use-after-free, regardless of distance
//	untracked               ->  wild access (no owning allocation)
//
// Distance and direction always come from the chunk registry, never from
// shadow bytes: the registry is the authoritative record of where each user
// region starts and ends.
//
// The reporter is terminal by design. Once a violation is detected, further
// checked execution is assumed unsafe, so Report formats the diagnostic,
// hands it to the termination callback and never returns. The diagnostic
// deliberately contains the substring
//
//	is located <N> byte(s) before|after
//
// with the exact computed distance; downstream log scrapers parse that
// phrasing.
package detector
