package audit

import (
	"encoding/json"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff renders a diff-match-patch text patch between the indented JSON of before and after.
// The diff is computed per line so a changed field appears whole.
// An empty string means no change or an unencodable value.
func Diff(before, after any) string {
	left, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return ""
	}
	right, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return ""
	}
	if string(left) == string(right) {
		return ""
	}
	dmp := diffmatchpatch.New()
	leftChars, rightChars, lines := dmp.DiffLinesToChars(string(left), string(right))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(leftChars, rightChars, false), lines)
	return dmp.PatchToText(dmp.PatchMake(string(left), diffs))
}
