package backend

import "time"

// Stamp renders the current instant as the compact UTC form used for
// change stamps, e.g. "20260115T093045Z".
func Stamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}
