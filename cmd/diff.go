package cmd

import (
	"fmt"
	"os"

	"github.com/notelock/notelock/internal/journal"
)

// Diff compares a stored entry against a local plaintext file and
// prints a unified diff.
func Diff(id, path string) {
	j := openJournal()
	defer j.Close()

	UnlockOrExit(j)

	entry, err := j.Entry(id)
	if err != nil {
		HandleError(err)
	}

	local, err := os.ReadFile(path)
	if err != nil {
		HandleError(err)
	}

	diff := journal.UnifiedDiff(path, entry.Content, string(local))
	if diff == "" {
		fmt.Println("No differences")
		return
	}
	fmt.Print(diff)
}
