package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	progressCollectionName     = "progress"
	destinationsCollectionName = "destinations"
)

// FirestoreStore is the remote backend for deployments without a writable
// disk (e.g. Cloud Run). One document per scope, one per destination chat.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

type progressDoc struct {
	SentWords  []string `firestore:"sent_words"`
	LastSentOn string   `firestore:"last_sent_on"`
	LastPushOn string   `firestore:"last_push_on"`
}

func (s *FirestoreStore) GetProgress(ctx context.Context, scope string) (ScopeProgress, error) {
	snap, err := s.progressDoc(scope).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ScopeProgress{SentWords: []string{}}, nil
		}
		return ScopeProgress{}, fmt.Errorf("get progress: %w", err)
	}

	var doc progressDoc
	if err := snap.DataTo(&doc); err != nil {
		return ScopeProgress{}, fmt.Errorf("decode progress: %w", err)
	}
	if doc.SentWords == nil {
		doc.SentWords = []string{}
	}

	return ScopeProgress{
		SentWords:  doc.SentWords,
		LastSentOn: doc.LastSentOn,
		LastPushOn: doc.LastPushOn,
	}, nil
}

func (s *FirestoreStore) SaveProgress(ctx context.Context, scope string, p ScopeProgress) error {
	sent := append([]string(nil), p.SentWords...)
	sort.Strings(sent)

	_, err := s.progressDoc(scope).Set(ctx, map[string]any{
		"sent_words":   sent,
		"last_sent_on": p.LastSentOn,
		"last_push_on": p.LastPushOn,
		"updated_at":   firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ResetProgress(ctx context.Context, scope string) error {
	_, err := s.progressDoc(scope).Set(ctx, map[string]any{
		"sent_words": []string{},
		"updated_at": firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Destinations(ctx context.Context) ([]int64, error) {
	iter := s.client.Collection(destinationsCollectionName).Documents(ctx)
	defer iter.Stop()

	out := make([]int64, 0, 16)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list destinations: %w", err)
		}

		chatID, parseErr := strconv.ParseInt(doc.Ref.ID, 10, 64)
		if parseErr != nil {
			continue
		}
		out = append(out, chatID)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *FirestoreStore) AddDestination(ctx context.Context, chatID int64) (bool, error) {
	ref := s.destinationDoc(chatID)
	if _, err := ref.Get(ctx); err == nil {
		return false, nil
	} else if status.Code(err) != codes.NotFound {
		return false, fmt.Errorf("check destination: %w", err)
	}

	_, err := ref.Set(ctx, map[string]any{
		"chat_id":       chatID,
		"registered_at": firestore.ServerTimestamp,
	})
	if err != nil {
		return false, fmt.Errorf("add destination: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) RemoveDestination(ctx context.Context, chatID int64) (bool, error) {
	ref := s.destinationDoc(chatID)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("check destination: %w", err)
	}

	if _, err := ref.Delete(ctx); err != nil {
		return false, fmt.Errorf("remove destination: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) progressDoc(scope string) *firestore.DocumentRef {
	return s.client.Collection(progressCollectionName).Doc(scope)
}

func (s *FirestoreStore) destinationDoc(chatID int64) *firestore.DocumentRef {
	return s.client.Collection(destinationsCollectionName).Doc(strconv.FormatInt(chatID, 10))
}
