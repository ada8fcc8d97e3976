package mcp

import "github.com/mark3labs/mcp-go/mcp"

var dialectOptions = []mcp.ToolOption{
	mcp.WithString("delimiter", mcp.Description(`Field delimiter: one ASCII character, or "tab" (default ",")`)),
	mcp.WithString("quote", mcp.Description(`Quote character (default '"')`)),
}

var resolveToolDef = mcp.NewTool("csv_resolve", append([]mcp.ToolOption{
	mcp.WithDescription("Resolve malformed CSV into rows by choosing, for every quote, delimiter and line break, "+
		"whether it is structural or literal so that each column's content stays as uniform as possible. "+
		"Pass the CSV inline as data or as a path in an allowed directory."),
	mcp.WithString("path", mcp.Description("Input file (.csv, .tsv, .txt) directly in an allowed directory")),
	mcp.WithString("data", mcp.Description("Inline CSV text")),
	mcp.WithString("label", mcp.Description("Label for the recorded run (default \"default\")")),
	mcp.WithNumber("columns", mcp.Description("Expected column count; 0 infers it from the first line")),
	mcp.WithNumber("max_moves", mcp.Description("Search budget in row placements")),
	mcp.WithNumber("timeout_ms", mcp.Description("Search time budget in milliseconds")),
	mcp.WithNumber("workers", mcp.Description("Search partitions explored concurrently")),
	mcp.WithBoolean("strict_ties", mcp.Description("Report equally scored readings as AMBIGUITY")),
	mcp.WithBoolean("keep_blank_lines", mcp.Description("Treat empty lines as rows")),
	mcp.WithBoolean("no_cache", mcp.Description("Skip the stored-result lookup")),
	mcp.WithBoolean("record", mcp.Description("Store the run for later fetch, report and export")),
}, dialectOptions...)...)

var strictToolDef = mcp.NewTool("csv_strict", append([]mcp.ToolOption{
	mcp.WithDescription("Tokenize well-formed CSV one line per row. With columns set, rows with extra fields "+
		"are repaired by merging the excess into absorb_column; short rows are reported."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("path", mcp.Description("Input file (.csv, .tsv, .txt) directly in an allowed directory")),
	mcp.WithString("data", mcp.Description("Inline CSV text")),
	mcp.WithNumber("columns", mcp.Description("Expected column count; 0 disables repair")),
	mcp.WithNumber("absorb_column", mcp.Description("0-based column that absorbs excess fields")),
}, dialectOptions...)...)

var fetchToolDef = mcp.NewTool("run_fetch",
	mcp.WithDescription("Fetch a recorded run by id, including its rows unless include_rows is false."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run ULID")),
	mcp.WithBoolean("include_rows", mcp.Description("Include resolved rows (default true)")),
)

var listToolDef = mcp.NewTool("run_list",
	mcp.WithDescription("List recorded runs, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("label", mcp.Description("Filter by label")),
	mcp.WithString("outcome", mcp.Description("Filter by outcome"), mcp.Enum("resolved", "invalid", "ambiguity")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var purgeToolDef = mcp.NewTool("run_purge",
	mcp.WithDescription("Permanently delete recorded runs by label and/or age. Set all to delete every run."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("label", mcp.Description("Only purge runs with this label")),
	mcp.WithNumber("older_than_days", mcp.Description("Only purge runs created more than N days ago")),
	mcp.WithBoolean("all", mcp.Description("Required when no other filter is given")),
)

var exportToolDef = mcp.NewTool("run_export",
	mcp.WithDescription("Write a run's rows to a file as csv, json, jsonl or yaml. "+
		"Without id, archive all runs (optionally one label) as JSONL."),
	mcp.WithString("id", mcp.Description("Run ULID")),
	mcp.WithString("label", mcp.Description("Archive only runs with this label")),
	mcp.WithString("format", mcp.Description("Output format"), mcp.Enum("csv", "json", "jsonl", "yaml")),
	mcp.WithString("path", mcp.Description("Output file (default under ~/.mend/exports)")),
)

var reportToolDef = mcp.NewTool("run_report",
	mcp.WithDescription("Render a recorded run as a Markdown or HTML report."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run ULID")),
	mcp.WithString("format", mcp.Description("Report format"), mcp.Enum("markdown", "html")),
	mcp.WithNumber("max_rows", mcp.Description("Rows previewed (default 20)")),
)
