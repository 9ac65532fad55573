package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/pitchside/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockSyncStore implements SyncStore with function fields.
type mockSyncStore struct {
	unsyncedFunc func(ctx context.Context, limit int32) ([]domain.Subscription, error)
	linkedFunc   func(ctx context.Context, limit int32) ([]domain.Subscription, error)
}

func (m *mockSyncStore) ListUnsyncedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	if m.unsyncedFunc != nil {
		return m.unsyncedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockSyncStore) ListProviderLinkedSubscriptions(ctx context.Context, limit int32) ([]domain.Subscription, error) {
	if m.linkedFunc != nil {
		return m.linkedFunc(ctx, limit)
	}
	return nil, nil
}

// mockSyncer implements Syncer with function fields.
type mockSyncer struct {
	pushFunc      func(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error)
	reconcileFunc func(ctx context.Context, sub *domain.Subscription) error
}

func (m *mockSyncer) PushToProvider(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error) {
	if m.pushFunc != nil {
		return m.pushFunc(ctx, sub)
	}
	return &domain.SyncDiagnosis{SubscriptionID: sub.ID, NeedsSync: true}, nil
}

func (m *mockSyncer) ReconcileFromProvider(ctx context.Context, sub *domain.Subscription) error {
	if m.reconcileFunc != nil {
		return m.reconcileFunc(ctx, sub)
	}
	return nil
}

func pendingSubs(n int) []domain.Subscription {
	subs := make([]domain.Subscription, n)
	for i := range subs {
		subs[i] = domain.Subscription{ID: uuid.New(), Status: domain.SubscriptionStatusPending, Provider: "gocardless"}
	}
	return subs
}

func Test_SubscriptionSync_CountsBothDirections(t *testing.T) {
	st := &mockSyncStore{
		unsyncedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return pendingSubs(2), nil
		},
		linkedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return pendingSubs(3), nil
		},
	}
	w := NewSubscriptionSyncWorker(st, &mockSyncer{}, testLogger(), 100)

	result, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.WorkerResult{Processed: 5, Succeeded: 5, Failed: 0}, result)
}

func Test_SubscriptionSync_BlockedSubscriptionIsNeitherSuccessNorFailure(t *testing.T) {
	st := &mockSyncStore{
		unsyncedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return pendingSubs(1), nil
		},
	}
	syncer := &mockSyncer{
		pushFunc: func(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error) {
			return &domain.SyncDiagnosis{SubscriptionID: sub.ID,
				Blockers: []domain.SyncBlocker{domain.BlockerNoMandate}}, nil
		},
	}
	w := NewSubscriptionSyncWorker(st, syncer, testLogger(), 100)

	result, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.WorkerResult{Processed: 1, Succeeded: 0, Failed: 0}, result)
}

func Test_SubscriptionSync_PerSubscriptionFailuresDoNotAbort(t *testing.T) {
	subs := pendingSubs(3)
	st := &mockSyncStore{
		unsyncedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return subs, nil
		},
	}
	failing := subs[1].ID
	syncer := &mockSyncer{
		pushFunc: func(ctx context.Context, sub *domain.Subscription) (*domain.SyncDiagnosis, error) {
			if sub.ID == failing {
				return nil, errors.New("provider unreachable")
			}
			return &domain.SyncDiagnosis{SubscriptionID: sub.ID, NeedsSync: true}, nil
		},
	}
	w := NewSubscriptionSyncWorker(st, syncer, testLogger(), 100)

	result, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.WorkerResult{Processed: 3, Succeeded: 2, Failed: 1}, result)
}

func Test_SubscriptionSync_ReconcileFailuresCounted(t *testing.T) {
	st := &mockSyncStore{
		linkedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return pendingSubs(2), nil
		},
	}
	syncer := &mockSyncer{
		reconcileFunc: func(ctx context.Context, sub *domain.Subscription) error {
			return errors.New("provider lookup failed")
		},
	}
	w := NewSubscriptionSyncWorker(st, syncer, testLogger(), 100)

	result, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.WorkerResult{Processed: 2, Succeeded: 0, Failed: 2}, result)
}

func Test_SubscriptionSync_ListFailureAbortsRun(t *testing.T) {
	bang := errors.New("connection refused")
	st := &mockSyncStore{
		unsyncedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			return nil, bang
		},
	}
	w := NewSubscriptionSyncWorker(st, &mockSyncer{}, testLogger(), 100)

	_, err := w.Run(context.Background())

	assert.ErrorIs(t, err, bang)
}

func Test_SubscriptionSync_BatchSizePassedThrough(t *testing.T) {
	var gotLimit int32
	st := &mockSyncStore{
		unsyncedFunc: func(ctx context.Context, limit int32) ([]domain.Subscription, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	w := NewSubscriptionSyncWorker(st, &mockSyncer{}, testLogger(), 25)

	_, err := w.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(25), gotLimit)
}
