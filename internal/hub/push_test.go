package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-occupancy-backend/internal/model"
)

// mockSender is a scripted implementation of the PushSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// memSubStore keeps subscriptions in a map and records deletions.
type memSubStore struct {
	mu      sync.Mutex
	subs    map[int64][]model.PushSubscription
	deleted []string
	listErr error
}

func (s *memSubStore) SubscriptionsForOccupant(_ context.Context, occupantID int64) ([]model.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.subs[occupantID], nil
}

func (s *memSubStore) DeleteSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, endpoint)
	return nil
}

func (s *memSubStore) deletions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func pushResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func TestPusher_DispatchQueuesJob(t *testing.T) {
	p := NewPusher(1, &memSubStore{}, &webpush.Options{})
	p.Dispatch(7, Message{Topic: TopicUserRemoved})

	select {
	case job := <-p.jobs:
		assert.Equal(t, int64(7), job.occupantID)
		assert.Contains(t, string(job.payload), TopicUserRemoved)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestPusher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	p := NewPusher(1, &memSubStore{}, &webpush.Options{})
	p.Dispatch(1, Message{Topic: TopicUserRemoved})

	done := make(chan struct{})
	go func() {
		p.Dispatch(2, Message{Topic: TopicUserRemoved})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}
}

func TestPusher_DeliverSendsToEverySubscription(t *testing.T) {
	store := &memSubStore{subs: map[int64][]model.PushSubscription{
		7: {
			{Endpoint: "https://push.example/a", P256DH: "k1", Auth: "a1", OccupantID: 7},
			{Endpoint: "https://push.example/b", P256DH: "k2", Auth: "a2", OccupantID: 7},
		},
	}}
	var mu sync.Mutex
	var endpoints []string
	p := NewPusher(1, store, &webpush.Options{})
	p.sender = &mockSender{SendFunc: func(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		mu.Lock()
		endpoints = append(endpoints, sub.Endpoint)
		mu.Unlock()
		return pushResponse(http.StatusCreated), nil
	}}

	p.deliver(context.Background(), pushJob{occupantID: 7, payload: []byte(`{}`)})

	assert.ElementsMatch(t, []string{"https://push.example/a", "https://push.example/b"}, endpoints)
	assert.Empty(t, store.deletions())
}

func TestPusher_GonePrunesSubscription(t *testing.T) {
	store := &memSubStore{subs: map[int64][]model.PushSubscription{
		7: {
			{Endpoint: "https://push.example/stale", OccupantID: 7},
			{Endpoint: "https://push.example/live", OccupantID: 7},
		},
	}}
	p := NewPusher(1, store, &webpush.Options{})
	p.sender = &mockSender{SendFunc: func(_ []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		if sub.Endpoint == "https://push.example/stale" {
			return pushResponse(http.StatusGone), nil
		}
		return pushResponse(http.StatusCreated), nil
	}}

	p.deliver(context.Background(), pushJob{occupantID: 7, payload: []byte(`{}`)})

	assert.Equal(t, []string{"https://push.example/stale"}, store.deletions())
}

func TestPusher_SendErrorNeverDeletes(t *testing.T) {
	store := &memSubStore{subs: map[int64][]model.PushSubscription{
		7: {{Endpoint: "https://push.example/a", OccupantID: 7}},
	}}
	p := NewPusher(1, store, &webpush.Options{})
	p.sender = &mockSender{SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		return nil, errors.New("transport down")
	}}

	p.deliver(context.Background(), pushJob{occupantID: 7, payload: []byte(`{}`)})

	assert.Empty(t, store.deletions())
}

func TestPusher_WorkersDrainTheQueue(t *testing.T) {
	store := &memSubStore{subs: map[int64][]model.PushSubscription{
		7: {{Endpoint: "https://push.example/a", OccupantID: 7}},
	}}
	var mu sync.Mutex
	sent := 0
	p := NewPusher(2, store, &webpush.Options{})
	p.sender = &mockSender{SendFunc: func(_ []byte, _ *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		mu.Lock()
		sent++
		mu.Unlock()
		return pushResponse(http.StatusCreated), nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Dispatch(7, Message{Topic: TopicSessionExpired})
	p.Dispatch(7, Message{Topic: TopicUserRemoved})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sent == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_UnicastMirrorsRemovalTopicsToPush(t *testing.T) {
	store := &memSubStore{}
	p := NewPusher(4, store, &webpush.Options{})
	h := New(p)

	h.Unicast(7, Message{Topic: TopicUserRemoved})
	h.Unicast(7, Message{Topic: TopicOccupancyUpdate})

	// Only the removal topic lands in the push queue.
	select {
	case job := <-p.jobs:
		assert.Contains(t, string(job.payload), TopicUserRemoved)
	case <-time.After(time.Second):
		t.Fatal("expected a push job for user_removed")
	}
	select {
	case job := <-p.jobs:
		t.Fatalf("unexpected push job %s", job.payload)
	default:
	}
}
