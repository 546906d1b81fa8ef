package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aixgo-dev/bookwright/internal/story"
)

const defaultFirestoreCollection = "bookwright_sessions"

// FirestoreConfig configures the Firestore backend.
type FirestoreConfig struct {
	ProjectID  string
	Collection string
	// CredentialsFile is optional; application default credentials are used
	// when empty.
	CredentialsFile string
}

// FirestoreStore keeps one document per session. The state itself is stored
// as a JSON string; status and update time are top-level fields so they can
// be queried.
type FirestoreStore struct {
	client  *firestore.Client
	collRef *firestore.CollectionRef
}

type firestoreDocument struct {
	ID        string    `firestore:"id"`
	Step      string    `firestore:"step"`
	Status    string    `firestore:"status"`
	UpdatedAt time.Time `firestore:"updated_at"`
	Data      string    `firestore:"data"`
}

// NewFirestoreStore creates a client for cfg.ProjectID.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore project_id is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultFirestoreCollection
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		client:  client,
		collRef: client.Collection(collection),
	}, nil
}

func (s *FirestoreStore) Save(ctx context.Context, state *story.State) error {
	if err := validateID(state.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	doc := firestoreDocument{
		ID:        state.ID,
		Step:      state.Step,
		Status:    string(state.Status),
		UpdatedAt: state.UpdatedAt,
		Data:      string(data),
	}
	if _, err := s.collRef.Doc(state.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to save session %s: %w", state.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Load(ctx context.Context, id string) (*story.State, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	snap, err := s.collRef.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return fromSnapshot(snap)
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if _, err := s.collRef.Doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]*story.State, error) {
	iter := s.collRef.OrderBy("updated_at", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var states []*story.State
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		st, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.collRef.Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*story.State, error) {
	var doc firestoreDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", snap.Ref.ID, err)
	}
	return decode([]byte(doc.Data))
}
