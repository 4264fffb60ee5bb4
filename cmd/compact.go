package cmd

import (
	"fmt"
	"os"
)

// Compact compacts the journal database to reclaim unused space
func Compact() {
	j := openJournal()
	defer j.Close()

	info, err := os.Stat(journalPath())
	if err != nil {
		HandleError(err)
	}
	sizeBefore := info.Size()

	if err := j.Store().Compact(); err != nil {
		HandleError(err)
	}

	info, err = os.Stat(journalPath())
	if err != nil {
		HandleError(err)
	}
	sizeAfter := info.Size()

	fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
}
