package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weqory/alertengine/internal/model"
)

type fakeStore struct {
	deleteResult  bool
	deleteErr     error
	markResult    bool
	markErr       error
	deletedAlerts []int64
	markedAlerts  []int64
	historyErr    error
	history       []model.TriggerRecord
}

func (f *fakeStore) DeletePriceAlert(ctx context.Context, alertID int64) (bool, error) {
	f.deletedAlerts = append(f.deletedAlerts, alertID)
	return f.deleteResult, f.deleteErr
}

func (f *fakeStore) MarkComplexTriggered(ctx context.Context, alertID int64, header model.TriggerHeader) (bool, error) {
	f.markedAlerts = append(f.markedAlerts, alertID)
	return f.markResult, f.markErr
}

func (f *fakeStore) InsertTriggerRecord(ctx context.Context, rec model.TriggerRecord) error {
	f.history = append(f.history, rec)
	return f.historyErr
}

type fakeRealtime struct {
	published []int64
	err       error
}

func (f *fakeRealtime) Publish(ctx context.Context, userID int64, event model.TriggerEvent) error {
	f.published = append(f.published, userID)
	return f.err
}

type fakeMessenger struct {
	dispatched []int64
	err        error
}

func (f *fakeMessenger) Dispatch(ctx context.Context, userID int64, event model.TriggerEvent) error {
	f.dispatched = append(f.dispatched, userID)
	return f.err
}

func TestFire_PriceAlert_PersistsThenNotifies(t *testing.T) {
	store := &fakeStore{deleteResult: true}
	rt := &fakeRealtime{}
	msg := &fakeMessenger{}
	s := New(store, rt, msg, nil)

	payload := model.PricePayload{TriggerHeader: model.TriggerHeader{AlertID: 1, UserID: 9, TriggeredAt: time.Now()}}
	s.Fire(context.Background(), model.TriggerEvent{Price: &payload})

	assert.Equal(t, []int64{1}, store.deletedAlerts)
	assert.Equal(t, []int64{9}, rt.published)
	assert.Equal(t, []int64{9}, msg.dispatched)
	require.Len(t, store.history, 1)
	assert.Equal(t, int64(1), store.history[0].AlertID)
}

func TestFire_HistoryInsertFailureDoesNotBlockBestEffort(t *testing.T) {
	store := &fakeStore{deleteResult: true, historyErr: errors.New("db down")}
	rt := &fakeRealtime{}
	msg := &fakeMessenger{}
	s := New(store, rt, msg, nil)

	payload := model.PricePayload{TriggerHeader: model.TriggerHeader{AlertID: 5, UserID: 3}}
	s.Fire(context.Background(), model.TriggerEvent{Price: &payload})

	assert.Equal(t, []int64{3}, rt.published)
	assert.Equal(t, []int64{3}, msg.dispatched)
}

func TestFire_DuplicateDeleteRejectedSkipsBestEffort(t *testing.T) {
	store := &fakeStore{deleteResult: false}
	rt := &fakeRealtime{}
	msg := &fakeMessenger{}
	s := New(store, rt, msg, nil)

	payload := model.PricePayload{TriggerHeader: model.TriggerHeader{AlertID: 1, UserID: 9}}
	s.Fire(context.Background(), model.TriggerEvent{Price: &payload})

	assert.Empty(t, rt.published)
	assert.Empty(t, msg.dispatched)
}

func TestFire_PersistErrorSkipsBestEffort(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("db down")}
	rt := &fakeRealtime{}
	msg := &fakeMessenger{}
	s := New(store, rt, msg, nil)

	payload := model.PricePayload{TriggerHeader: model.TriggerHeader{AlertID: 1, UserID: 9}}
	s.Fire(context.Background(), model.TriggerEvent{Price: &payload})

	assert.Empty(t, rt.published)
	assert.Empty(t, msg.dispatched)
}

func TestFire_RealtimeFailureDoesNotBlockMessenger(t *testing.T) {
	store := &fakeStore{markResult: true}
	rt := &fakeRealtime{err: errors.New("socket closed")}
	msg := &fakeMessenger{}
	s := New(store, rt, msg, nil)

	payload := model.ComplexPayload{TriggerHeader: model.TriggerHeader{AlertID: 2, UserID: 7}}
	s.Fire(context.Background(), model.TriggerEvent{Complex: &payload})

	assert.Equal(t, []int64{2}, store.markedAlerts)
	assert.Equal(t, []int64{7}, msg.dispatched)
}

func TestFire_NilBestEffortSinksAreSkipped(t *testing.T) {
	store := &fakeStore{deleteResult: true}
	s := New(store, nil, nil, nil)

	payload := model.PricePayload{TriggerHeader: model.TriggerHeader{AlertID: 3, UserID: 1}}
	assert.NotPanics(t, func() {
		s.Fire(context.Background(), model.TriggerEvent{Price: &payload})
	})
}
