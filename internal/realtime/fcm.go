package realtime

import (
	"context"
	"fmt"
	"time"

	"outpatient-backend/internal/metrics"
	"outpatient-backend/internal/visitflow"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Sender is the part of the FCM messaging client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCM mirrors every topic onto the Firebase Cloud Messaging topic of the
// same name as a data-only message, for dashboards that cannot hold a
// websocket open.
type FCM struct {
	client  Sender
	timeout time.Duration
}

// NewFCM connects to Firebase with a service-account file.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}

	log.Info().Msg("Firebase Cloud Messaging ready")
	return NewFCMWithSender(client), nil
}

// NewFCMWithSender wraps an existing sender.
func NewFCMWithSender(sender Sender) *FCM {
	return &FCM{client: sender, timeout: 5 * time.Second}
}

// Notify sends in the background; the request that triggered the event
// has already committed and must not wait on Firebase.
func (f *FCM) Notify(_ context.Context, topics ...visitflow.Topic) {
	if f == nil || f.client == nil || len(topics) == 0 {
		return
	}
	pending := append([]visitflow.Topic(nil), topics...)
	go func() {
		for _, topic := range pending {
			f.send(topic)
		}
	}()
}

func (f *FCM) send(topic visitflow.Topic) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	message := &messaging.Message{
		Topic: string(topic),
		Data:  map[string]string{"event": string(topic)},
	}
	if _, err := f.client.Send(ctx, message); err != nil {
		log.Error().Err(err).Str("topic", string(topic)).Msg("fcm: error sending message")
		return
	}
	metrics.RecordNotification(string(topic), "fcm")
}
