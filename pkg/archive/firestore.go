package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirestoreBackend stores archived sessions in Google Cloud Firestore:
// one document per session under the configured collection, with
// exchanges in an "exchanges" subcollection ordered by creation time.
//
// Firestore notes:
//   - uses Application Default Credentials unless a credentials file
//     is configured
//   - subcollection documents must be deleted explicitly; deleting the
//     session document alone would orphan them
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string
	// CredentialsFile optionally points at service account credentials.
	CredentialsFile string
	// Collection is the top-level collection name
	// (default: "agentquery_sessions").
	Collection string
}

// NewFirestoreBackend creates a Firestore archive backend.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("project ID is required")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "agentquery_sessions"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreBackend{
		client:     client,
		collection: collection,
	}, nil
}

// Name identifies the backend kind.
func (b *FirestoreBackend) Name() string { return "firestore" }

func (b *FirestoreBackend) sessionDoc(sessionID string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(sessionID)
}

// SaveExchange writes the exchange document and refreshes the session
// summary.
func (b *FirestoreBackend) SaveExchange(ctx context.Context, ex *Exchange) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrArchiveClosed
	}
	b.mu.RUnlock()

	doc := b.sessionDoc(ex.SessionID)

	if _, err := doc.Collection("exchanges").Doc(ex.ID).Set(ctx, ex); err != nil {
		return fmt.Errorf("write exchange: %w", err)
	}

	if _, err := doc.Set(ctx, map[string]any{
		"id":        ex.SessionID,
		"updatedAt": time.Now().UTC(),
	}, firestore.MergeAll); err != nil {
		return fmt.Errorf("update session summary: %w", err)
	}
	return nil
}

// LoadExchanges retrieves all exchanges for a session in order.
func (b *FirestoreBackend) LoadExchanges(ctx context.Context, sessionID string) ([]*Exchange, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrArchiveClosed
	}
	b.mu.RUnlock()

	iter := b.sessionDoc(sessionID).Collection("exchanges").
		OrderBy("CreatedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var exchanges []*Exchange
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate exchanges: %w", err)
		}

		var ex Exchange
		if err := doc.DataTo(&ex); err != nil {
			return nil, fmt.Errorf("decode exchange: %w", err)
		}
		exchanges = append(exchanges, &ex)
	}

	if len(exchanges) == 0 {
		return nil, ErrSessionNotFound
	}
	return exchanges, nil
}

// ListSessions returns all archived sessions.
func (b *FirestoreBackend) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrArchiveClosed
	}
	b.mu.RUnlock()

	iter := b.client.Collection(b.collection).Documents(ctx)
	defer iter.Stop()

	var sessions []*SessionInfo
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate sessions: %w", err)
		}

		info := &SessionInfo{ID: doc.Ref.ID}
		if v, err := doc.DataAt("updatedAt"); err == nil {
			if t, ok := v.(time.Time); ok {
				info.UpdatedAt = t
			}
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

// DeleteSession removes a session document and its exchanges.
func (b *FirestoreBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrArchiveClosed
	}
	b.mu.RUnlock()

	doc := b.sessionDoc(sessionID)

	iter := doc.Collection("exchanges").Documents(ctx)
	defer iter.Stop()

	bw := b.client.BulkWriter(ctx)
	for {
		exDoc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("iterate exchanges: %w", err)
		}
		if _, err := bw.Delete(exDoc.Ref); err != nil {
			return fmt.Errorf("delete exchange: %w", err)
		}
	}
	if _, err := bw.Delete(doc); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	bw.End()

	return nil
}

// Close releases the Firestore client.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
