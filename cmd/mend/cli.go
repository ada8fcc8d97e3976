package main

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/logging"
	"github.com/hpungsan/mend/internal/ops"
	"github.com/hpungsan/mend/internal/watcher"
	"github.com/hpungsan/mend/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	app := &cli.App{
		Name:    "mend",
		Usage:   "Resolve malformed and ambiguous CSV",
		Version: Version,
		Commands: []*cli.Command{
			resolveCmd(db, cfg),
			strictCmd(cfg),
			fetchCmd(db),
			listCmd(db),
			purgeCmd(db),
			exportCmd(db, cfg),
			reportCmd(db),
			sweepCmd(db, cfg),
			watchCmd(db, cfg, log),
			serveCmd(db, cfg, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func dialectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "delimiter", Aliases: []string{"d"}, Usage: `Field delimiter, one byte; "tab" and "\t" mean a tab (default ",")`},
		&cli.StringFlag{Name: "quote", Aliases: []string{"q"}, Usage: `Quote character, one byte (default '"')`},
		&cli.IntFlag{Name: "columns", Aliases: []string{"c"}, Usage: "Expected column count (0 infers it from the first line)"},
	}
}

// resolveCmd creates the resolve command.
func resolveCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a CSV file (or stdin) into rows",
		ArgsUsage: "[path]",
		Flags: append(dialectFlags(),
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Label for the recorded run"},
			&cli.IntFlag{Name: "max-moves", Usage: "Search budget in row placements (overrides config)"},
			&cli.IntFlag{Name: "timeout-ms", Usage: "Search time budget in milliseconds (overrides config)"},
			&cli.IntFlag{Name: "workers", Usage: "Parallel search workers (overrides config)"},
			&cli.BoolFlag{Name: "strict-ties", Usage: "Fail with AMBIGUITY when candidates tie"},
			&cli.BoolFlag{Name: "keep-blank-lines", Usage: "Emit blank lines as single empty-cell rows"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Skip the stored-result lookup"},
			&cli.BoolFlag{Name: "record", Aliases: []string{"r"}, Usage: "Store the run"},
			&cli.BoolFlag{Name: "csv", Usage: "Write the rows as CSV instead of JSON"},
		),
		Action: func(c *cli.Context) error {
			data, source, err := readInputArg(c, cfg)
			if err != nil {
				return outputError(err)
			}

			input := ops.ResolveInput{
				Data:           data,
				Source:         source,
				Label:          c.String("label"),
				Delimiter:      c.String("delimiter"),
				Quote:          c.String("quote"),
				Columns:        c.Int("columns"),
				KeepBlankLines: c.Bool("keep-blank-lines"),
				NoCache:        c.Bool("no-cache"),
				Record:         c.Bool("record"),
			}
			if c.IsSet("max-moves") {
				v := c.Int("max-moves")
				input.MaxMoves = &v
			}
			if c.IsSet("timeout-ms") {
				v := c.Int("timeout-ms")
				input.TimeoutMS = &v
			}
			if c.IsSet("workers") {
				v := c.Int("workers")
				input.Workers = &v
			}
			if c.IsSet("strict-ties") {
				v := c.Bool("strict-ties")
				input.StrictTies = &v
			}

			output, err := ops.Resolve(c.Context, db, cfg, input)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("csv") {
				if err := outputCSV(output.Rows, c.String("delimiter")); err != nil {
					return outputError(errors.NewIO(err))
				}
			} else if err := outputJSON(output); err != nil {
				return err
			}
			if f := output.Failure; f != nil {
				return cli.Exit(fmt.Sprintf("[%s] %s (line %d, column %d)", f.Code, f.Message, f.Line, f.Column), 2)
			}
			return nil
		},
	}
}

// strictCmd creates the strict command.
func strictCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "strict",
		Usage:     "Tokenize one row per line, repairing rows to --columns",
		ArgsUsage: "[path]",
		Flags: append(dialectFlags(),
			&cli.IntFlag{Name: "absorb-column", Usage: "0-based column that absorbs surplus fields"},
		),
		Action: func(c *cli.Context) error {
			data, _, err := readInputArg(c, cfg)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Strict(c.Context, cfg, ops.StrictInput{
				Data:         data,
				Delimiter:    c.String("delimiter"),
				Quote:        c.String("quote"),
				Columns:      c.Int("columns"),
				AbsorbColumn: c.Int("absorb-column"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a stored run by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-rows", Usage: "Exclude rows from output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{ID: c.Args().First()}
			if c.Bool("no-rows") {
				includeRows := false
				input.IncludeRows = &includeRows
			}

			output, err := ops.Fetch(db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored runs, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Filter by label"},
			&cli.StringFlag{Name: "outcome", Usage: "Filter by outcome: resolved|invalid|ambiguity"},
			&cli.IntFlag{Name: "limit", Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListInput{
				Label:   optionalString(c, "label"),
				Outcome: optionalString(c, "outcome"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			}

			output, err := ops.List(db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete stored runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Only purge runs with this label"},
			&cli.StringFlag{Name: "older-than", Usage: "Only purge runs created more than N days ago (e.g., 7d)"},
			&cli.BoolFlag{Name: "all", Usage: "Purge every run"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{
				Label: optionalString(c, "label"),
				All:   c.Bool("all"),
			}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.Purge(c.Context, db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a run's rows, or archive runs as JSONL",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.mend/exports/<label>-<id>.<ext>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "csv|json|jsonl|yaml (default csv for a run, jsonl for an archive)"},
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Archive only runs with this label"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, db, cfg, ops.ExportInput{
				ID:     c.Args().First(),
				Label:  optionalString(c, "label"),
				Format: c.String("format"),
				Path:   c.String("path"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Print a Markdown or HTML report of a stored run",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.ReportMarkdown, Usage: "markdown|html"},
			&cli.IntFlag{Name: "max-rows", Usage: "Rows to preview (default 20, negative for none)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Report(db, ops.ReportInput{
				ID:      c.Args().First(),
				Format:  c.String("format"),
				MaxRows: c.Int("max-rows"),
			})
			if err != nil {
				return outputError(err)
			}

			_, err = io.WriteString(os.Stdout, output.Content)
			return err
		},
	}
}

// sweepCmd creates the sweep command.
func sweepCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "sweep",
		Usage:     "Resolve every matching file in a directory",
		ArgsUsage: "<dir>",
		Flags: append(dialectFlags(),
			&cli.StringFlag{Name: "pattern", Value: ops.DefaultSweepPattern, Usage: "Glob over file names"},
			&cli.StringSliceFlag{Name: "exclude", Aliases: []string{"x"}, Usage: "Glob over file names to skip (repeatable)"},
			&cli.IntFlag{Name: "parallel", Aliases: []string{"j"}, Value: 1, Usage: "Files resolved at once"},
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Label for recorded runs (default: file name)"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Skip the stored-result lookup"},
			&cli.BoolFlag{Name: "record", Aliases: []string{"r"}, Usage: "Store each run"},
		),
		Action: func(c *cli.Context) error {
			output, err := ops.Sweep(c.Context, db, cfg, ops.SweepInput{
				Dir:         c.Args().First(),
				Pattern:     c.String("pattern"),
				Exclude:     c.StringSlice("exclude"),
				Parallel:    c.Int("parallel"),
				FileOptions: fileOptions(c),
			})
			if err != nil {
				return outputError(err)
			}

			if err := outputJSON(output); err != nil {
				return err
			}
			if output.Failed > 0 {
				return cli.Exit(fmt.Sprintf("%d of %d files failed", output.Failed, len(output.Files)), 2)
			}
			return nil
		},
	}
}

// watchCmd creates the watch command.
func watchCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Resolve matching files whenever their content changes",
		ArgsUsage: "<dir> [dir...]",
		Flags: append(dialectFlags(),
			&cli.StringFlag{Name: "include", Value: watcher.DefaultInclude, Usage: "Glob over file names"},
			&cli.StringSliceFlag{Name: "exclude", Aliases: []string{"x"}, Usage: "Glob over file names to skip (repeatable)"},
			&cli.DurationFlag{Name: "debounce", Usage: "Quiet period before resolving (default: watch_debounce_ms)"},
			&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Label for recorded runs (default: file name)"},
			&cli.BoolFlag{Name: "record", Aliases: []string{"r"}, Usage: "Store each run"},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("at least one directory is required"))
			}
			if _, err := ops.ParseDialect(c.String("delimiter"), c.String("quote")); err != nil {
				return outputError(err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			debounce := cfg.WatchDebounce()
			if c.IsSet("debounce") {
				debounce = c.Duration("debounce")
			}
			opts := fileOptions(c)

			w, err := watcher.New(watcher.Options{
				Debounce: debounce,
				Include:  c.String("include"),
				Exclude:  c.StringSlice("exclude"),
				Logger:   log,
			}, func(paths []string) {
				for _, path := range paths {
					result := ops.ResolveFile(ctx, db, cfg, opts, path)
					if err := outputJSONLine(result); err != nil {
						log.Error("write result", zap.Error(err))
					}
				}
			})
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			defer w.Close()

			if err := w.Watch(c.Args().Slice()); err != nil {
				return outputError(errors.NewIO(err))
			}
			logging.FromContext(ctx).Info("watching", zap.Strings("dirs", c.Args().Slice()))

			<-ctx.Done()
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run browser, POST /resolve and /metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8787, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(db, cfg, Version, c.String("bind"), c.Int("port"), log)
			return web.Run(srv, log)
		},
	}
}

// Helper functions

// readInputArg reads the file named by the first argument, or stdin when
// there is none. Local paths are trusted; only the size limit applies.
func readInputArg(c *cli.Context, cfg *config.Config) ([]byte, *string, error) {
	if c.NArg() > 0 {
		path := c.Args().First()
		data, err := ops.ReadLocal(path, cfg)
		if err != nil {
			return nil, nil, err
		}
		return data, &path, nil
	}

	if !stdinHasData() {
		return nil, nil, errors.NewInvalidRequest("input must be a path argument or piped via stdin")
	}
	limit := cfg.MaxInputBytes
	if limit <= 0 {
		limit = config.DefaultConfig().MaxInputBytes
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return nil, nil, errors.NewIO(err)
	}
	if int64(len(data)) > limit {
		return nil, nil, errors.NewFileTooLarge(limit, int64(len(data)))
	}
	source := "stdin"
	return data, &source, nil
}

func fileOptions(c *cli.Context) ops.FileOptions {
	return ops.FileOptions{
		Label:     c.String("label"),
		Delimiter: c.String("delimiter"),
		Quote:     c.String("quote"),
		Columns:   c.Int("columns"),
		NoCache:   c.Bool("no-cache"),
		Record:    c.Bool("record"),
	}
}

// optionalString returns the flag value, or nil when it is unset or empty.
func optionalString(c *cli.Context, name string) *string {
	if v := c.String(name); v != "" {
		return &v
	}
	return nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJSONLine writes v to stdout as one line of JSON.
func outputJSONLine(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

// outputCSV writes rows to stdout with the given delimiter.
func outputCSV(rows [][]string, delimiter string) error {
	d, err := ops.ParseDialect(delimiter, "")
	if err != nil {
		return err
	}
	w := csv.NewWriter(os.Stdout)
	w.Comma = rune(d.Delimiter)
	return w.WriteAll(rows)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if mErr, ok := errors.As(err); ok {
		if mErr.Position != nil {
			return cli.Exit(fmt.Sprintf("[%s] %s (line %d, column %d)", mErr.Code, mErr.Message, mErr.Position.Line, mErr.Position.Column), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", mErr.Code, mErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}
