package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"staysync/normalize"
)

// ContentHash fingerprints the marketing content of a listing. The hash
// covers only the fields captured in a snapshot, so metadata churn (sync
// timestamps, capacity corrections) does not produce a new snapshot row.
func ContentHash(l *normalize.Listing) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s",
		strings.TrimSpace(l.Title),
		strings.TrimSpace(l.Description),
		strings.Join(l.Amenities, ","),
		strings.Join(l.PhotoURLs, ","),
		strings.TrimSpace(l.HouseRules),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}
