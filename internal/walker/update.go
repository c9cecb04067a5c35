package walker

import (
	"os"

	"github.com/agentic-research/nancy/internal/macro"
)

// upToDate reports whether outPath exists and is no older than every
// dependency gathered during expansion. A dependency that cannot be
// statted counts as newer, forcing a rewrite.
func upToDate(outPath string, deps *macro.DepSet) bool {
	info, err := os.Stat(outPath)
	if err != nil {
		return false
	}
	outTime := info.ModTime()
	for _, dep := range deps.Files() {
		depInfo, err := dep.Stat()
		if err != nil {
			return false
		}
		if depInfo.ModTime().After(outTime) {
			return false
		}
	}
	return true
}
