package cmd

import (
	"fmt"

	"github.com/notelock/notelock/internal/journal"
)

// Edit opens an entry's decrypted content in the user's editor and
// stores the result as an update.
func Edit(id string) {
	j := openJournal()
	defer j.Close()

	UnlockOrExit(j)

	entry, err := j.Entry(id)
	if err != nil {
		HandleError(err)
	}

	edited, err := journal.EditContent([]byte(entry.Content))
	if err != nil {
		HandleError(err)
	}
	if string(edited) == entry.Content {
		fmt.Println("No changes")
		return
	}

	summary, err := j.UpdateEntry(id, entry.Title, string(edited), entry.Mood, entry.TagIDs)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Updated entry %s (%d words)\n", summary.ID, summary.WordCount)
}
