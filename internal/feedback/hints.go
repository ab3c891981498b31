package feedback

import (
	"strings"

	"github.com/kylegalloway/dataflame/internal/sandbox"
)

var hints = map[sandbox.Kind]string{
	sandbox.KindPolicy: "The code was rejected before running. Import only the allowed modules and drop any " +
		"file, process or network access; charts are saved with the plot module.",
	sandbox.KindSyntax: "Check brackets, quotes and indentation. The language is Starlark: there are no classes, " +
		"try/except, with statements, f-strings or raise; use fail(msg) and \"%s\" % value formatting.",
	sandbox.KindName: "A name is undefined. Check its spelling against the namespace listing; " +
		"variables from earlier successful rounds are still bound.",
	sandbox.KindAttributeOrKey: "A column, key or attribute was not found. Verify the exact column names " +
		"with print(t.columns) before using them; names are case-sensitive.",
	sandbox.KindType: "An argument had the wrong type or count. Convert with int(), float() or str() " +
		"and check the function's parameters.",
	sandbox.KindValue: "A value was invalid, for example empty data, a missing value or mismatched lengths. " +
		"Inspect the data first and filter out None before computing.",
	sandbox.KindEncoding: "The file is not UTF-8. Re-read it with another encoding, for example " +
		"table.read_csv(path, encoding=\"gb18030\"), encoding=\"latin-1\" or encoding=\"auto\".",
	sandbox.KindIODenied: "Only the input files can be read, by the bare names listed in input_files. " +
		"Chart file names must be bare names ending in .png or .svg.",
	sandbox.KindTimeout: "Execution exceeded its time limit. Avoid unbounded loops and row-by-row work; " +
		"use group_by, describe and the stats module instead.",
	sandbox.KindRuntime: "Read the error message and trace, then correct the failing step.",
}

// Hint returns the corrective advice shown for a failure kind.
func Hint(kind sandbox.Kind, msg string) string {
	if strings.Contains(msg, "during iteration") {
		return "A list or dict cannot change while a loop iterates over it. Collect the changes " +
			"in a new list (for example ys = ys + [v]) and assign it after the loop."
	}
	return hints[kind]
}
