package profiles

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/metrics"
)

// DocumentHandler does the work for one unprocessed document.
type DocumentHandler func(ctx context.Context, p *Profile, doc *Document) error

// LogHandler is the default handler. It only logs the document.
func LogHandler(_ context.Context, p *Profile, doc *Document) error {
	log.Info().
		Str("profile_id", p.ID).
		Str("document_id", doc.ID).
		Int("content_bytes", len(doc.Content)).
		Msg("Processing document")
	return nil
}

// Processor is the scheduler callback that processes a profile's documents.
type Processor struct {
	profiles  *Store
	documents *DocumentStore
	handle    DocumentHandler
}

// NewProcessor creates a processor. A nil handler means LogHandler.
func NewProcessor(db *database.DB, handler DocumentHandler) *Processor {
	if handler == nil {
		handler = LogHandler
	}
	return &Processor{
		profiles:  NewStore(db),
		documents: NewDocumentStore(db),
		handle:    handler,
	}
}

// Process runs one tick for the profile named by args["profile_id"], or by
// the trigger id when args carry none. It walks all of the profile's
// documents in order, skipping those already processed, and marks each one
// it handles. The profile's counters are refreshed at the end, including
// when a document fails.
func (p *Processor) Process(ctx context.Context, triggerID string, args map[string]string) error {
	profileID := args["profile_id"]
	if profileID == "" {
		profileID = triggerID
	}

	profile, err := p.profiles.Get(ctx, profileID)
	if err != nil {
		return err
	}

	docs, err := p.documents.ListByProfile(ctx, profileID, "all")
	if err != nil {
		return err
	}

	log.Debug().
		Str("profile_id", profileID).
		Int("documents", len(docs)).
		Msg("Processing profile documents")

	processed, skipped := 0, 0
	var procErr error
	for _, doc := range docs {
		if doc.Status == DocumentProcessed {
			skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			procErr = err
			break
		}
		if err := p.handle(ctx, profile, doc); err != nil {
			procErr = fmt.Errorf("processing document %s: %w", doc.ID, err)
			break
		}
		if err := p.documents.MarkProcessed(ctx, doc.ID); err != nil {
			procErr = err
			break
		}
		processed++
	}

	metrics.AddDocumentsProcessed(processed)

	if processed > 0 {
		if err := p.profiles.RefreshCounts(context.WithoutCancel(ctx), profileID); err != nil {
			log.Error().Err(err).Str("profile_id", profileID).Msg("Failed to refresh document counts")
		}
	}

	if procErr != nil {
		return procErr
	}

	log.Info().
		Str("profile_id", profileID).
		Int("processed", processed).
		Int("skipped", skipped).
		Msg("Profile documents processed")
	return nil
}
