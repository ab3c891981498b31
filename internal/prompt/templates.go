package prompt

import (
	"fmt"
	"strings"
)

var moduleDocs = map[string]string{
	"table": `table: read_csv(path, encoding="utf-8", sep=""), read_json(path), from_dict({"col": [...]}).
  A table t has t.columns, t.shape, t["col"] (a list), t[i] (a row dict), len(t), and methods
  head(n), tail(n), col(name), select(*names), where(col, op, value) with op in == != < <= > >= contains startswith,
  sort_by(col, desc=False), group_by(key, value, agg="sum") with agg in sum mean min max median std count
  (result columns: key and value_agg), describe(), unique(col), value_counts(col), with_column(name, values),
  to_string(max_rows=15), row(i). Missing numeric cells are None.`,
	"stats": `stats: mean, median, std, min, max, sum (each takes a list, None is skipped), quantile(xs, p), corr(xs, ys).`,
	"plot": `plot: bar(labels, values), line(xs, ys), scatter(xs, ys), hist(values, bins=10); every function takes
  title=, xlabel=, ylabel= and file= (a bare name ending in .png or .svg) and returns the saved file name.`,
	"json": `json: encode(value), decode(text), indent(text).`,
	"math": `math: sqrt, log, exp, pow, floor, ceil, round, pi, e and the other usual functions.`,
	"time": `time: now(), parse_time(text, format=...), time(year=, month=, day=), parse_duration(text).`,
}

const systemTemplate = `You are a careful data analyst working in a notebook-like sandbox. You answer the user's
request by writing small code fragments that are executed one at a time; after each one you see a summary of the result.

The language is Starlark, a Python dialect. Differences that matter:
- No classes, try/except, with, raise, generators or f-strings. Format with "%%s" %% value or str().
- Use fail("message") to stop with an error.
- Top-level for and while loops and if statements are allowed.
- Variables persist between fragments like notebook cells, including lists and dicts you keep extending.

Modules (import them with "import table" or "from stats import mean"):
%s

Constraints:
- Only the modules above can be imported. There is no file, network, process or OS access.
- Read input files by the bare names listed in input_files. Never invent file names or column names: inspect them first.
- Save charts only through the plot module with meaningful file names. Charts and the report live in one directory.
- When printing tables longer than 15 rows, show only the first 5 and last 5 rows (to_string does this).
- Keep each fragment focused on one step.

Reply format: one fenced yaml block and nothing that looks like another code block:
` + "```yaml" + `
action: generate_code
reasoning: |
  what this step does and why
code: |
  df = table.read_csv("sales.csv")
  print(df.columns)
figures:            # optional, describe charts produced by earlier steps
  - file: revenue_by_region.png
    description: what the chart shows
` + "```" + `
To describe charts already saved without running code, reply with action: collect_figures and a
figures_to_collect list of entries with filename, description and analysis.
When the request is fully answered, reply with action: analysis_complete and no code.`

func renderSystem(modules []string) string {
	var docs []string
	for _, m := range modules {
		if d, ok := moduleDocs[m]; ok {
			docs = append(docs, "- "+d)
		}
	}
	if len(docs) == 0 {
		docs = append(docs, "- (none)")
	}
	return fmt.Sprintf(systemTemplate, strings.Join(docs, "\n"))
}

const exploreInstruction = `Stage: explore. Load every input file and print its columns, shape, head() and describe().
Check column types and missing values. Do not draw charts yet. Reply with one code step.`

const analyzeInstruction = `Stage: analyze, round %d of at most %d. Take the next step toward answering the request:
compute, compare, and chart what matters. Build on the variables listed above instead of reloading data.
Reply with one code step, or with action: analysis_complete if the request is answered.`

const recoverInstruction = `Stage: recover, attempt %d of %d. The previous fragment failed; the error and a hint are above.
Send a corrected fragment that fixes only the failing step. Do not repeat the same mistake.`

const decideInstruction = `Stage: decide. %d of at most %d analysis rounds are done.
Is further analysis needed to answer the request, or is there enough to write the report?
Reply with one fenced yaml block:
` + "```yaml" + `
action: continue   # or: report
reasoning: one sentence
` + "```"

const reportInstruction = `Stage: report. Write the final report in Markdown for the user's request, based only on the
results above. Structure it as: overview, process, key findings, one section per chart with its analysis, conclusions
and recommendations. Prefer paragraphs to bullet lists. Embed charts only from the list above, with relative paths:
![description](./file_name.png). Reply with the whole report inside one ` + "```markdown" + ` fenced block.`
