package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/recurrence"
	"github.com/clofast/clofast/internal/scheduler"
)

// Registry is the entry point for profile operations. It keeps the profile
// rows, the trigger records and the engine's pending set consistent.
type Registry struct {
	// mu serializes changes to existing profiles across the transaction and
	// the engine update that follows it.
	mu sync.Mutex

	db        *database.DB
	profiles  *Store
	documents *DocumentStore
	schedules *scheduler.Store
	engine    *scheduler.Engine
	newID     func() string
}

// NewRegistry creates a registry. schedules must be the store engine was
// built over.
func NewRegistry(db *database.DB, schedules *scheduler.Store, engine *scheduler.Engine) *Registry {
	return &Registry{
		db:        db,
		profiles:  NewStore(db),
		documents: NewDocumentStore(db),
		schedules: schedules,
		engine:    engine,
		newID:     uuid.NewString,
	}
}

// Create registers a profile and schedules its trigger. The profile row and
// the trigger record commit together; nothing is stored when the recurrence
// does not compile or the expression is rejected.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Profile, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	res, err := recurrence.Resolve(req.Schedule)
	if err != nil {
		return nil, err
	}

	id := r.newID()
	schedule := req.Schedule
	schedule.Timezone = res.Timezone
	if res.Frequency != recurrence.FrequencyCustom {
		schedule.CronExpression = ""
	}

	rec := &scheduler.Record{
		ID:         id,
		ProfileID:  id,
		Expression: res.Expression,
		Timezone:   res.Timezone,
		Args:       map[string]string{"profile_id": id},
		Enabled:    true,
	}
	next, err := r.engine.Validate(rec, r.engine.Now())
	if err != nil {
		return nil, err
	}
	rec.NextRun = &next

	p := &Profile{
		ID:             id,
		UserID:         req.UserID,
		Title:          req.Title,
		Description:    req.Description,
		DefinedTerms:   req.DefinedTerms,
		Schedule:       schedule,
		CronExpression: res.Expression,
		Status:         StatusActive,
	}

	err = r.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := r.profiles.WithTx(tx).Create(ctx, p); err != nil {
			return err
		}
		return r.schedules.WithTx(tx).Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.engine.Add(rec); err != nil {
		log.Error().Err(err).Str("profile_id", id).Msg("Stored profile could not be scheduled")
		return nil, err
	}
	p.NextRun = &next

	log.Info().
		Str("profile_id", id).
		Str("user_id", p.UserID).
		Str("frequency", string(res.Frequency)).
		Str("expression", res.Expression).
		Str("timezone", res.Timezone).
		Time("next_run", next).
		Msg("Profile created and scheduled")

	return p, nil
}

// Get returns a profile with its pending fire time.
func (r *Registry) Get(ctx context.Context, id string) (*Profile, error) {
	p, err := r.profiles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.attachNextRun(p)
	return p, nil
}

// List returns the profiles matching opts.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]*Profile, error) {
	profiles, err := r.profiles.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		r.attachNextRun(p)
	}
	return profiles, nil
}

// Delete cancels a profile's pending firing, then removes the profile, its
// documents and its trigger record together. If the delete fails the
// pending firing is put back.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.engine.Remove(id)

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := r.profiles.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		if err := r.schedules.WithTx(tx).Delete(ctx, id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		r.engine.Restore(entry)
		return err
	}

	log.Info().Str("profile_id", id).Msg("Profile deleted")
	return nil
}

// Reschedule replaces a profile's recurrence. The pending firing moves to
// the first occurrence of the new expression; a paused profile stays paused.
func (r *Registry) Reschedule(ctx context.Context, id string, cfg ScheduleConfig) (*Profile, error) {
	res, err := recurrence.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.Timezone = res.Timezone
	if res.Frequency != recurrence.FrequencyCustom {
		cfg.CronExpression = ""
	}

	var rec *scheduler.Record
	err = r.db.Transaction(ctx, func(tx *database.Tx) error {
		profiles := r.profiles.WithTx(tx)
		p, err := profiles.Get(ctx, id)
		if err != nil {
			return err
		}

		rec = &scheduler.Record{
			ID:         id,
			ProfileID:  id,
			Expression: res.Expression,
			Timezone:   res.Timezone,
			Args:       map[string]string{"profile_id": id},
			Enabled:    p.Status == StatusActive,
		}
		next, err := r.engine.Validate(rec, r.engine.Now())
		if err != nil {
			return err
		}
		if rec.Enabled {
			rec.NextRun = &next
		}

		if err := profiles.UpdateSchedule(ctx, id, cfg, res.Expression); err != nil {
			return err
		}
		return r.schedules.WithTx(tx).Put(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.engine.Add(rec); err != nil {
		return nil, err
	}

	log.Info().
		Str("profile_id", id).
		Str("expression", res.Expression).
		Str("timezone", res.Timezone).
		Msg("Profile rescheduled")

	return r.Get(ctx, id)
}

// SetStatus activates or deactivates a profile. Deactivating pauses its
// trigger; activating resumes it at the next occurrence from now.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) (*Profile, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status %q (use active or inactive)", ErrInvalidInput, status)
	}
	enabled := status == StatusActive

	r.mu.Lock()
	defer r.mu.Unlock()

	var rec *scheduler.Record
	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := r.profiles.WithTx(tx).SetStatus(ctx, id, status); err != nil {
			return err
		}

		schedules := r.schedules.WithTx(tx)
		var err error
		if rec, err = schedules.Get(ctx, id); err != nil {
			return err
		}
		rec.Enabled = enabled
		rec.NextRun = nil

		var next time.Time
		if enabled {
			if next, err = r.engine.Validate(rec, r.engine.Now()); err != nil {
				return err
			}
			rec.NextRun = &next
		}
		return schedules.SetEnabled(ctx, id, enabled, next)
	})
	if err != nil {
		return nil, err
	}

	if _, err := r.engine.Add(rec); err != nil {
		return nil, err
	}

	log.Info().Str("profile_id", id).Str("status", string(status)).Msg("Profile status changed")
	return r.Get(ctx, id)
}

// StatusSummary counts profiles by status.
func (r *Registry) StatusSummary(ctx context.Context) (Summary, error) {
	return r.profiles.Summary(ctx)
}

// ListDocuments returns a profile's documents, filtered by status.
func (r *Registry) ListDocuments(ctx context.Context, profileID, filter string) ([]*Document, error) {
	if _, err := r.profiles.Get(ctx, profileID); err != nil {
		return nil, err
	}
	return r.documents.ListByProfile(ctx, profileID, filter)
}

// AddDocument attaches a document to a profile and updates its counters.
func (r *Registry) AddDocument(ctx context.Context, profileID, content string) (*Document, error) {
	var doc *Document
	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		var err error
		if doc, err = r.documents.WithTx(tx).Add(ctx, profileID, content); err != nil {
			return err
		}
		return r.profiles.WithTx(tx).RefreshCounts(ctx, profileID)
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("profile_id", profileID).Str("document_id", doc.ID).Msg("Document added")
	return doc, nil
}

func (r *Registry) attachNextRun(p *Profile) {
	if at, ok := r.engine.NextRun(p.ID); ok {
		p.NextRun = &at
	}
}
