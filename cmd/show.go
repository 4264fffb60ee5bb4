package cmd

import (
	"fmt"
	"time"
)

// Show decrypts and prints one entry
func Show(id string) {
	j := openJournal()
	defer j.Close()

	UnlockOrExit(j)

	entry, err := j.Entry(id)
	if err != nil {
		HandleError(err)
	}

	if entry.Title != "" {
		fmt.Printf("# %s\n\n", entry.Title)
	}
	fmt.Println(entry.Content)
	fmt.Println()
	fmt.Printf("-- %s", entry.CreatedAt.Format(time.RFC1123))
	if entry.Mood > 0 {
		fmt.Printf(" | mood %d/5", entry.Mood)
	}
	if len(entry.TagIDs) > 0 {
		fmt.Printf(" | tags: %v", entry.TagIDs)
	}
	fmt.Println()
}
