package hub

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"library-occupancy-backend/internal/model"
)

// PushSender defines the interface for sending a web push notification.
type PushSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation backed by the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the slice of the persistence layer the pusher needs.
type SubscriptionStore interface {
	SubscriptionsForOccupant(ctx context.Context, occupantID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

type pushJob struct {
	occupantID int64
	payload    []byte
}

// Pusher mirrors occupant-directed hub messages to browser push
// subscriptions through a pool of workers.
type Pusher struct {
	size    int
	jobs    chan pushJob
	store   SubscriptionStore
	options *webpush.Options
	sender  PushSender
}

// NewPusher creates a worker pool over the given subscription store.
func NewPusher(size int, store SubscriptionStore, options *webpush.Options) *Pusher {
	if size < 1 {
		size = 1
	}
	return &Pusher{
		size:    size,
		jobs:    make(chan pushJob, size),
		store:   store,
		options: options,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (p *Pusher) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

func (p *Pusher) worker(ctx context.Context, id int) {
	log.Printf("Push worker %d started", id)
	for {
		select {
		case job := <-p.jobs:
			p.deliver(ctx, job)
		case <-ctx.Done():
			log.Printf("Push worker %d shutting down", id)
			return
		}
	}
}

// Dispatch enqueues a message for one occupant's subscriptions. A full
// queue drops the job rather than block the caller.
func (p *Pusher) Dispatch(occupantID int64, msg Message) {
	select {
	case p.jobs <- pushJob{occupantID: occupantID, payload: msg.JSON()}:
	default:
		log.Printf("Push queue full, dropping %s for occupant %d", msg.Topic, occupantID)
	}
}

func (p *Pusher) deliver(ctx context.Context, job pushJob) {
	subs, err := p.store.SubscriptionsForOccupant(ctx, job.occupantID)
	if err != nil {
		log.Printf("Error fetching subscriptions for occupant %d: %v", job.occupantID, err)
		return
	}
	for _, sub := range subs {
		p.send(ctx, sub, job.payload)
	}
}

func (p *Pusher) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(payload, wpSub, p.options)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := p.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
