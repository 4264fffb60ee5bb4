package cmd

import (
	"fmt"
	"os"
	"time"
)

// Status shows the current journal state. Requires no password.
func Status() {
	if _, err := os.Stat(journalPath()); err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No %s file found in current directory\n", JournalFile)
			fmt.Println("Run 'notelock init' to create one")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	j := openJournal()
	defer j.Close()

	summaries, err := j.ListEntries()
	if err != nil {
		HandleError(err)
	}

	pending, failed, err := j.Store().QueueLen()
	if err != nil {
		HandleError(err)
	}
	watermark, err := j.Store().Watermark()
	if err != nil {
		HandleError(err)
	}
	modified, err := j.Store().GetModified()
	if err != nil {
		HandleError(err)
	}

	words := 0
	for _, s := range summaries {
		words += s.WordCount
	}

	fmt.Printf("Entries: %d (%d words)\n", len(summaries), words)
	fmt.Printf("Queue: %d pending, %d failed\n", pending, failed)
	if watermark.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s\n", watermark.Format(time.RFC3339))
	}
	fmt.Printf("Modified: %s\n", modified.Format(time.RFC3339))

	if failed > 0 {
		fmt.Println()
		fmt.Println("Failed operations:")
		ops, err := j.Store().FailedOps()
		if err != nil {
			HandleError(err)
		}
		for _, op := range ops {
			fmt.Printf("  #%d %s %s (retries: %d)\n", op.Seq, op.Kind, op.RecordID, op.RetryCount)
		}
	}
}
