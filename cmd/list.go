package cmd

import (
	"fmt"
)

// List prints plaintext metadata for all entries. Works while locked;
// titles and content stay encrypted.
func List() {
	j := openJournal()
	defer j.Close()

	summaries, err := j.ListEntries()
	if err != nil {
		HandleError(err)
	}

	if len(summaries) == 0 {
		fmt.Println("No entries")
		return
	}

	fmt.Printf("%-36s  %-16s  %6s  %4s  %s\n", "ID", "CREATED", "WORDS", "MOOD", "SYNC")
	for _, s := range summaries {
		mood := "-"
		if s.Mood > 0 {
			mood = fmt.Sprintf("%d", s.Mood)
		}
		fmt.Printf("%-36s  %-16s  %6d  %4s  %s\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.WordCount, mood, s.Sync.State)
	}
}
