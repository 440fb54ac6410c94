package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/recurrence"
)

// ErrInvalidInput marks a request that is malformed in a way none of the
// scheduling error kinds describe, such as an unknown sort key.
var ErrInvalidInput = errors.New("invalid input")

var profileColumns = []string{
	"id", "user_id", "title", "description", "defined_terms",
	"frequency", "date_str", "cron_expression", "timezone", "version",
	"total_documents", "active_documents", "inactive_documents", "status",
	"created_at", "updated_at",
}

// Store persists profiles.
type Store struct {
	db  database.Querier
	now func() time.Time
}

// NewStore creates a new profile store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: database.Now}
}

// WithTx returns a store whose statements run inside tx.
func (s *Store) WithTx(tx *database.Tx) *Store {
	return &Store{db: tx, now: s.now}
}

// Create inserts p. An existing id is a DuplicateID error.
func (s *Store) Create(ctx context.Context, p *Profile) error {
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.DefinedTerms == nil {
		p.DefinedTerms = []DefinedTerm{}
	}

	terms, err := json.Marshal(p.DefinedTerms)
	if err != nil {
		return fmt.Errorf("marshaling defined terms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+strings.Join(profileColumns, ", ")+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.UserID,
		p.Title,
		p.Description,
		string(terms),
		p.Schedule.Frequency,
		p.Schedule.DateStr,
		p.CronExpression,
		p.Schedule.Timezone,
		p.Version,
		p.TotalDocuments,
		p.ActiveDocuments,
		p.InactiveDocuments,
		string(p.Status),
		database.FormatTime(p.CreatedAt),
		database.FormatTime(p.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueError(err) {
			return apperr.New(apperr.KindDuplicateID, "profiles.store.create", "profile already exists").WithID(p.ID)
		}
		return storeErr("profiles.store.create", err)
	}
	return nil
}

// Get retrieves a profile by id.
func (s *Store) Get(ctx context.Context, id string) (*Profile, error) {
	query, args := database.Select("profiles", profileColumns...).Where("id", id).Build()

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("profiles.store.get", id)
		}
		return nil, storeErr("profiles.store.get", err)
	}
	return p, nil
}

// List returns the profiles matching opts.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Profile, error) {
	column, order, err := resolveSort(opts.Sort, opts.Order)
	if err != nil {
		return nil, err
	}

	var matcher glob.Glob
	if opts.TitlePattern != "" {
		matcher, err = glob.Compile(strings.ToLower(opts.TitlePattern))
		if err != nil {
			return nil, fmt.Errorf("%w: title pattern %q: %v", ErrInvalidInput, opts.TitlePattern, err)
		}
	}

	b := database.Select("profiles", profileColumns...)
	if opts.UserID != "" {
		b.Where("user_id", opts.UserID)
	}
	switch strings.ToLower(opts.Status) {
	case "", "all":
	case string(StatusActive), string(StatusInactive):
		b.Where("status", strings.ToLower(opts.Status))
	default:
		return nil, fmt.Errorf("%w: status filter %q (use all, active or inactive)", ErrInvalidInput, opts.Status)
	}
	b.OrderBy(column, order).OrderBy("id", order)

	query, args := b.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("profiles.store.list", err)
	}
	defer rows.Close()

	profiles := []*Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr("profiles.store.list", err)
		}
		if matcher != nil && !matcher.Match(strings.ToLower(p.Title)) {
			continue
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("profiles.store.list", err)
	}
	return profiles, nil
}

// Delete removes a profile. Its documents go with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return storeErr("profiles.store.delete", err)
	}
	return requireAffected(res, "profiles.store.delete", id)
}

// UpdateSchedule replaces the recurrence and derived expression and bumps
// the version.
func (s *Store) UpdateSchedule(ctx context.Context, id string, cfg ScheduleConfig, expression string) error {
	query, args := database.Update("profiles").
		Set("frequency", cfg.Frequency).
		Set("date_str", cfg.DateStr).
		Set("cron_expression", expression).
		Set("timezone", cfg.Timezone).
		SetExpr("version", "version + 1").
		Set("updated_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("profiles.store.update_schedule", err)
	}
	return requireAffected(res, "profiles.store.update_schedule", id)
}

// SetStatus activates or deactivates a profile.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	query, args := database.Update("profiles").
		Set("status", string(status)).
		SetExpr("version", "version + 1").
		Set("updated_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("profiles.store.set_status", err)
	}
	return requireAffected(res, "profiles.store.set_status", id)
}

// RefreshCounts recomputes the document counters from the documents table.
func (s *Store) RefreshCounts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET
			total_documents = (SELECT COUNT(*) FROM documents WHERE profile_id = profiles.id),
			active_documents = (SELECT COUNT(*) FROM documents WHERE profile_id = profiles.id AND status = 'unprocessed'),
			inactive_documents = (SELECT COUNT(*) FROM documents WHERE profile_id = profiles.id AND status = 'processed'),
			updated_at = ?
		WHERE id = ?
	`, database.FormatTime(s.now()), id)
	if err != nil {
		return storeErr("profiles.store.refresh_counts", err)
	}
	return requireAffected(res, "profiles.store.refresh_counts", id)
}

// Summary counts profiles by status.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM profiles GROUP BY status`)
	if err != nil {
		return Summary{}, storeErr("profiles.store.summary", err)
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Summary{}, storeErr("profiles.store.summary", err)
		}
		switch Status(status) {
		case StatusActive:
			sum.Active = n
		case StatusInactive:
			sum.Inactive = n
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, storeErr("profiles.store.summary", err)
	}

	sum.Total = sum.Active + sum.Inactive
	return sum, nil
}

// sortColumns maps accepted sort keys, lower-cased, to columns. The
// legacy client names (createdTime, ProfileName, noOfDocuments) are kept
// alongside the column names.
var sortColumns = map[string]string{
	"createdtime":     "created_at",
	"created_at":      "created_at",
	"profiletitle":    "title COLLATE NOCASE",
	"profilename":     "title COLLATE NOCASE",
	"title":           "title COLLATE NOCASE",
	"total_documents": "total_documents",
	"noofdocuments":   "total_documents",
}

// resolveSort turns a sort key and order into a column and direction. A
// combined key such as createdTimeDSC carries its own direction, which wins
// over order. With neither given, the newest profiles come first.
func resolveSort(key, order string) (string, database.SortOrder, error) {
	if key == "" && order == "" {
		return "created_at", database.SortDesc, nil
	}

	dir, ok := database.ParseSortOrder(order)
	if !ok {
		return "", "", fmt.Errorf("%w: sort order %q (use asc or desc)", ErrInvalidInput, order)
	}
	if key == "" {
		return "created_at", dir, nil
	}

	lower := strings.ToLower(key)
	if column, ok := sortColumns[lower]; ok {
		return column, dir, nil
	}

	for _, suffix := range []string{"desc", "dsc", "asc"} {
		base, found := strings.CutSuffix(lower, suffix)
		if !found {
			continue
		}
		if column, ok := sortColumns[base]; ok {
			d, _ := database.ParseSortOrder(suffix)
			return column, d, nil
		}
	}

	return "", "", fmt.Errorf("%w: sort key %q (use createdTime, profileTitle or total_documents)", ErrInvalidInput, key)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var terms, status, createdAt, updatedAt string

	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Title,
		&p.Description,
		&terms,
		&p.Schedule.Frequency,
		&p.Schedule.DateStr,
		&p.CronExpression,
		&p.Schedule.Timezone,
		&p.Version,
		&p.TotalDocuments,
		&p.ActiveDocuments,
		&p.InactiveDocuments,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(terms), &p.DefinedTerms); err != nil {
		return nil, fmt.Errorf("unmarshaling defined terms of %s: %w", p.ID, err)
	}
	if p.Schedule.Frequency == string(recurrence.FrequencyCustom) {
		p.Schedule.CronExpression = p.CronExpression
	}
	p.Status = Status(status)

	var err error
	if p.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", p.ID, err)
	}

	return &p, nil
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}

func notFound(op, id string) error {
	return apperr.New(apperr.KindNotFound, op, "no such profile").WithID(id)
}

func storeErr(op string, err error) error {
	return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
}
