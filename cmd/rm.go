package cmd

import (
	"fmt"
	"os"
)

// Remove tombstones entries and queues the deletes for sync. Requires
// no password: deleting discards ciphertext, it never reads plaintext.
func Remove(ids []string) {
	if len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "Error: rm requires at least one entry id\n")
		fmt.Fprintf(os.Stderr, "Usage: notelock rm <id> [id...]\n")
		os.Exit(1)
	}

	j := openJournal()
	defer j.Close()

	for _, id := range ids {
		if err := j.DeleteEntry(id); err != nil {
			HandleError(err)
		}
		fmt.Printf("✓ Removed entry %s\n", id)
	}
}
