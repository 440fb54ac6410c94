package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clofast/clofast/internal/recurrence"
	"github.com/clofast/clofast/internal/scheduler"
)

var (
	compileFrequency string
	compileDate      string
	compileCron      string
	compileTimezone  string
	compileCount     int
	compileFormat    string

	nextTimezone string
	nextFrom     string
	nextCount    int
	nextFormat   string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a recurrence into a trigger expression",
	Long: `Compile a reference timestamp and frequency into the five-field trigger
expression a profile would be scheduled with, and show its next runs.

The weekday field counts from Monday=0 to Sunday=6.

Examples:
  clofast compile --frequency weekly --date 2025-02-28T14:30:00Z
  clofast compile --frequency monthly --date 2025-03-15T09:00:00+05:30 --format yaml
  clofast compile --frequency custom --cron "*/15 9-17 * * 0-4" --timezone Europe/Berlin`,
	RunE: runCompile,
}

var nextCmd = &cobra.Command{
	Use:   "next <expression>",
	Short: "List the next fire times of a trigger expression",
	Long: `List the next fire times of a five-field trigger expression.

Examples:
  clofast next "30 14 * * 4"
  clofast next "0 9 1 * *" --timezone America/New_York --count 12`,
	Args: cobra.ExactArgs(1),
	RunE: runNext,
}

func init() {
	compileCmd.Flags().StringVar(&compileFrequency, "frequency", "", "Frequency class (daily, weekly, monthly, intraday, custom)")
	compileCmd.Flags().StringVar(&compileDate, "date", "", "Reference timestamp (ISO 8601 with offset)")
	compileCmd.Flags().StringVar(&compileCron, "cron", "", "Trigger expression for the custom frequency")
	compileCmd.Flags().StringVar(&compileTimezone, "timezone", "", "IANA zone or ±HH:MM offset")
	compileCmd.Flags().IntVarP(&compileCount, "count", "n", 3, "Number of upcoming runs to show")
	compileCmd.Flags().StringVarP(&compileFormat, "format", "f", "text", "Output format (text, json, yaml)")
	_ = compileCmd.MarkFlagRequired("frequency")

	nextCmd.Flags().StringVar(&nextTimezone, "timezone", "UTC", "IANA zone or ±HH:MM offset")
	nextCmd.Flags().StringVar(&nextFrom, "from", "", "Start instant (ISO 8601 with offset, default now)")
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of fire times to show")
	nextCmd.Flags().StringVarP(&nextFormat, "format", "f", "text", "Output format (text, json, yaml)")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(nextCmd)
}

type compileOutput struct {
	Frequency  string      `json:"frequency" yaml:"frequency"`
	Expression string      `json:"expression" yaml:"expression"`
	Timezone   string      `json:"timezone" yaml:"timezone"`
	NextRuns   []time.Time `json:"next_runs" yaml:"next_runs"`
}

func runCompile(cmd *cobra.Command, args []string) error {
	res, err := recurrence.Resolve(recurrence.Config{
		Frequency:      compileFrequency,
		DateStr:        compileDate,
		CronExpression: compileCron,
		Timezone:       compileTimezone,
	})
	if err != nil {
		return err
	}

	tz := res.Timezone
	if tz == "" {
		tz = "UTC"
	}
	runs, err := upcoming(res.Expression, tz, time.Now(), compileCount)
	if err != nil {
		return err
	}

	out := compileOutput{
		Frequency:  string(res.Frequency),
		Expression: res.Expression,
		Timezone:   tz,
		NextRuns:   runs,
	}
	return render(cmd.OutOrStdout(), compileFormat, out, func(w io.Writer) {
		fmt.Fprintf(w, "Frequency:  %s\n", out.Frequency)
		fmt.Fprintf(w, "Expression: %s\n", out.Expression)
		fmt.Fprintf(w, "Timezone:   %s\n", out.Timezone)
		fmt.Fprintln(w, "Next runs:")
		for _, t := range out.NextRuns {
			fmt.Fprintf(w, "  %s\n", t.Format(time.RFC3339))
		}
	})
}

type nextOutput struct {
	Expression string      `json:"expression" yaml:"expression"`
	Timezone   string      `json:"timezone" yaml:"timezone"`
	Runs       []time.Time `json:"runs" yaml:"runs"`
}

func runNext(cmd *cobra.Command, args []string) error {
	from := time.Now()
	if nextFrom != "" {
		t, err := recurrence.ParseTimestamp(nextFrom)
		if err != nil {
			return err
		}
		from = t
	}

	runs, err := upcoming(args[0], nextTimezone, from, nextCount)
	if err != nil {
		return err
	}

	out := nextOutput{Expression: args[0], Timezone: nextTimezone, Runs: runs}
	return render(cmd.OutOrStdout(), nextFormat, out, func(w io.Writer) {
		for _, t := range out.Runs {
			fmt.Fprintf(w, "%s  %s\n", t.Format(time.RFC3339), t.Format("Mon"))
		}
	})
}

// upcoming returns the next n fire times of expression strictly after from.
func upcoming(expression, timezone string, from time.Time, n int) ([]time.Time, error) {
	if n < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", n)
	}

	parser := scheduler.NewCronParser()
	runs := make([]time.Time, 0, n)
	at := from
	for range n {
		next, err := parser.NextRun(expression, timezone, at)
		if err != nil {
			return nil, err
		}
		runs = append(runs, next)
		at = next
	}
	return runs, nil
}

func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch strings.ToLower(format) {
	case "", "text":
		text(w)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (use text, json or yaml)", format)
	}
}
