package journal

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// UnifiedDiff renders a unified diff between two versions of an entry's
// plaintext. Returns the empty string when they are identical. name
// labels the file headers.
func UnifiedDiff(name, before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for readable output on multi-line entries.
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(before, diffs)
	if len(patches) == 0 {
		return ""
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- a/%s\n", name))
	result.WriteString(fmt.Sprintf("+++ b/%s\n", name))
	result.WriteString(dmp.PatchToText(patches))
	return result.String()
}

// ConflictMarkup interleaves two versions with git-style conflict
// markers. Equal sections pass through once; differing sections become
// marked hunks. Used when an edited entry diverged from the stored one.
func ConflictMarkup(local, remote string) string {
	dmp := diffmatchpatch.New()

	a, b, lineArray := dmp.DiffLinesToChars(local, remote)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var buf strings.Builder
	i := 0
	for i < len(diffs) {
		d := diffs[i]

		switch d.Type {
		case diffmatchpatch.DiffEqual:
			buf.WriteString(d.Text)
			i++

		case diffmatchpatch.DiffDelete, diffmatchpatch.DiffInsert:
			buf.WriteString("<<<<<<< local\n")
			for i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffDelete {
				writeHunk(&buf, diffs[i].Text)
				i++
			}
			buf.WriteString("=======\n")
			for i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffInsert {
				writeHunk(&buf, diffs[i].Text)
				i++
			}
			buf.WriteString(">>>>>>> remote\n")
		}
	}
	return buf.String()
}

func writeHunk(buf *strings.Builder, text string) {
	buf.WriteString(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		buf.WriteByte('\n')
	}
}
