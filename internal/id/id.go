package id

import (
	"strconv"
)

// splitSep separates a source external ID from its split index.
const splitSep = "_"

// FormatSplitID returns a derived external ID like "txn123_2" for split index 2.
// Split IDs never equal sourceID, so a mirror and the splits of one source
// record cannot collide.
func FormatSplitID(sourceID string, index int) string {
	return sourceID + splitSep + strconv.Itoa(index)
}
