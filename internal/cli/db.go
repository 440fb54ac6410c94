package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/database/migrations"
	"github.com/clofast/clofast/internal/profiles"
	"github.com/clofast/clofast/internal/scheduler"
)

var (
	dbFormat string
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database utilities",
	Long: `Database utilities for clofast.

Examples:
  clofast db status            Show migrations and profile counts
  clofast db seed data.yaml    Create profiles and documents from a file
  clofast db dump out.json     Export profiles and their documents`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	Long:  `Show applied migrations, profile counts by status and enabled triggers.`,
	RunE:  runDBStatus,
}

var dbSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Seed profiles from file",
	Long: `Create profiles, and the documents attached to them, from a JSON or
YAML file. Every profile goes through the same validation as the API, so a
file with a bad recurrence stops at that profile.

Example YAML:
  profiles:
    - user_id: u1
      profile_title: Leases
      schedule_config:
        frequency: weekly
        date_str: "2025-02-28T14:30:00Z"
      documents:
        - "lease 2025-001"
        - "lease 2025-002"`,
	Args: cobra.ExactArgs(1),
	RunE: runDBSeed,
}

var dbDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Dump profiles to file",
	Long: `Export every profile with its documents to a JSON or YAML file.

Use the --format flag to specify output format (default: json).`,
	Args: cobra.ExactArgs(1),
	RunE: runDBDump,
}

func init() {
	dbDumpCmd.Flags().StringVarP(&dbFormat, "format", "f", "json", "Output format (json, yaml)")

	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbSeedCmd)
	dbCmd.AddCommand(dbDumpCmd)

	rootCmd.AddCommand(dbCmd)
}

func openDatabase() (*database.DB, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}
	return db, cfg.Scheduler.Timezone, nil
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	applied, err := migrations.GetApplied(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	fmt.Fprintln(out, "Applied migrations:")
	for _, m := range applied {
		fmt.Fprintf(out, "  %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	pending, err := migrations.Pending(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}
	for _, id := range pending {
		fmt.Fprintf(out, "  %s (pending)\n", id)
	}

	sum, err := profiles.NewStore(db).Summary(ctx)
	if err != nil {
		return err
	}
	records, err := scheduler.NewStore(db).List(ctx)
	if err != nil {
		return err
	}
	enabled := 0
	for _, rec := range records {
		if rec.Enabled {
			enabled++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Profiles: %d (%d active, %d inactive)\n", sum.Total, sum.Active, sum.Inactive)
	fmt.Fprintf(out, "Triggers: %d (%d enabled)\n", len(records), enabled)
	return nil
}

type seedData struct {
	Profiles []seedProfile `json:"profiles" yaml:"profiles"`
}

type seedProfile struct {
	profiles.CreateRequest `yaml:",inline"`
	Documents              []string `json:"documents" yaml:"documents"`
}

func parseSeedData(filename string, data []byte) (*seedData, error) {
	var seed seedData
	if isYAMLFile(filename) {
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	}
	return &seed, nil
}

func isYAMLFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func runDBSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	seed, err := parseSeedData(args[0], data)
	if err != nil {
		return err
	}

	db, tz, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	created, docs, err := seedProfiles(cmd.Context(), db, tz, seed)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d profiles with %d documents\n", created, docs)
	return nil
}

// seedProfiles creates each profile through a registry whose engine is never
// started; the triggers are picked up by the next serve.
func seedProfiles(ctx context.Context, db *database.DB, timezone string, seed *seedData) (int, int, error) {
	schedules := scheduler.NewStore(db)
	processor := profiles.NewProcessor(db, nil)
	executor := scheduler.NewExecutor(processor.Process, scheduler.NewHistoryStore(db))
	engine := scheduler.NewEngine(schedules, executor, scheduler.WithTimezone(timezone))
	registry := profiles.NewRegistry(db, schedules, engine)

	created, docs := 0, 0
	for i, sp := range seed.Profiles {
		p, err := registry.Create(ctx, sp.CreateRequest)
		if err != nil {
			return created, docs, fmt.Errorf("profile %d (%q): %w", i, sp.Title, err)
		}
		created++

		for _, content := range sp.Documents {
			if _, err := registry.AddDocument(ctx, p.ID, content); err != nil {
				return created, docs, fmt.Errorf("profile %s document: %w", p.ID, err)
			}
			docs++
		}

		log.Debug().
			Str("profile_id", p.ID).
			Str("cron_expression", p.CronExpression).
			Int("documents", len(sp.Documents)).
			Msg("Seeded profile")
	}
	return created, docs, nil
}

type dumpData struct {
	Profiles []dumpProfile `json:"profiles" yaml:"profiles"`
}

type dumpProfile struct {
	profiles.Profile `yaml:",inline"`
	Documents        []*profiles.Document `json:"documents" yaml:"documents"`
}

func collectDump(ctx context.Context, db *database.DB) (*dumpData, error) {
	list, err := profiles.NewStore(db).List(ctx, profiles.ListOptions{})
	if err != nil {
		return nil, err
	}

	documents := profiles.NewDocumentStore(db)
	dump := &dumpData{Profiles: make([]dumpProfile, 0, len(list))}
	for _, p := range list {
		docs, err := documents.ListByProfile(ctx, p.ID, "all")
		if err != nil {
			return nil, err
		}
		dump.Profiles = append(dump.Profiles, dumpProfile{Profile: *p, Documents: docs})
	}
	return dump, nil
}

func runDBDump(cmd *cobra.Command, args []string) error {
	outputFile := args[0]

	db, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	dump, err := collectDump(cmd.Context(), db)
	if err != nil {
		return err
	}

	var output []byte
	switch dbFormat {
	case "yaml":
		output, err = yaml.Marshal(dump)
	case "json":
		output, err = json.MarshalIndent(dump, "", "  ")
	default:
		return fmt.Errorf("unknown format %q (use json or yaml)", dbFormat)
	}
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}

	if err := os.WriteFile(outputFile, output, 0o600); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Dumped %d profiles to %s\n", len(dump.Profiles), outputFile)
	return nil
}
