package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/notelock/notelock/internal/journal"
)

// Add creates a new entry. Content comes from stdin when piped,
// otherwise from the user's editor.
func Add(title string, mood int, tagIDs []string) {
	j := openJournal()
	defer j.Close()

	UnlockOrExit(j)

	content, err := readContent()
	if err != nil {
		HandleError(err)
	}
	if len(content) == 0 {
		fmt.Fprintf(os.Stderr, "Error: empty entry, nothing saved\n")
		os.Exit(1)
	}

	summary, err := j.CreateEntry(title, string(content), mood, tagIDs)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("✓ Added entry %s (%d words)\n", summary.ID, summary.WordCount)
}

func readContent() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err == nil && (info.Mode()&os.ModeCharDevice) == 0 {
		return io.ReadAll(os.Stdin)
	}
	return journal.EditContent(nil)
}
