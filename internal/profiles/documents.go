package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clofast/clofast/internal/apperr"
	"github.com/clofast/clofast/internal/database"
)

const documentIDPrefix = "doc_"

// DocumentStore persists the documents attached to profiles.
type DocumentStore struct {
	db  database.Querier
	now func() time.Time
}

// NewDocumentStore creates a new document store.
func NewDocumentStore(db *database.DB) *DocumentStore {
	return &DocumentStore{db: db, now: database.Now}
}

// WithTx returns a store whose statements run inside tx.
func (s *DocumentStore) WithTx(tx *database.Tx) *DocumentStore {
	return &DocumentStore{db: tx, now: s.now}
}

// Add attaches a new unprocessed document to a profile.
func (s *DocumentStore) Add(ctx context.Context, profileID, content string) (*Document, error) {
	doc := &Document{
		ID:        database.ShortID(documentIDPrefix),
		ProfileID: profileID,
		Content:   content,
		Status:    DocumentUnprocessed,
		CreatedAt: s.now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, profile_id, content, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.ProfileID, doc.Content, string(doc.Status), database.FormatTime(doc.CreatedAt))
	if err != nil {
		if database.IsForeignKeyError(err) {
			return nil, notFound("profiles.documents.add", profileID)
		}
		return nil, storeErr("profiles.documents.add", err)
	}
	return doc, nil
}

// ListByProfile returns a profile's documents in insertion order. filter is
// "all" (or empty), "unprocessed" or "processed".
func (s *DocumentStore) ListByProfile(ctx context.Context, profileID, filter string) ([]*Document, error) {
	b := database.Select("documents", "id", "profile_id", "content", "status", "created_at", "processed_at").
		Where("profile_id", profileID)

	switch f := strings.ToLower(filter); f {
	case "", "all":
	case string(DocumentUnprocessed), string(DocumentProcessed):
		b.Where("status", f)
	default:
		return nil, fmt.Errorf("%w: document filter %q (use all, unprocessed or processed)", ErrInvalidInput, filter)
	}
	b.OrderBy("created_at", database.SortAsc).OrderBy("rowid", database.SortAsc)

	query, args := b.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("profiles.documents.list", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		var doc Document
		var status, createdAt string
		var processedAt sql.NullString
		if err := rows.Scan(&doc.ID, &doc.ProfileID, &doc.Content, &status, &createdAt, &processedAt); err != nil {
			return nil, storeErr("profiles.documents.list", err)
		}
		doc.Status = DocumentStatus(status)
		if doc.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, storeErr("profiles.documents.list", fmt.Errorf("parsing created_at of %s: %w", doc.ID, err))
		}
		if processedAt.Valid && processedAt.String != "" {
			t, err := database.ParseTime(processedAt.String)
			if err != nil {
				return nil, storeErr("profiles.documents.list", fmt.Errorf("parsing processed_at of %s: %w", doc.ID, err))
			}
			doc.ProcessedAt = &t
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("profiles.documents.list", err)
	}
	return docs, nil
}

// MarkProcessed records that a document has been processed.
func (s *DocumentStore) MarkProcessed(ctx context.Context, id string) error {
	query, args := database.Update("documents").
		Set("status", string(DocumentProcessed)).
		Set("processed_at", database.FormatTime(s.now())).
		Where("id", id).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("profiles.documents.mark_processed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("profiles.documents.mark_processed", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "profiles.documents.mark_processed", "no such document").WithID(id)
	}
	return nil
}
