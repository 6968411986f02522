// Package realtime publishes payload-less queue invalidation events. A
// subscriber reacts to an event by re-fetching its queue over REST; events
// never carry entity data.
package realtime

import (
	"context"

	"outpatient-backend/internal/visitflow"
)

// Notifier publishes invalidation topics. Implementations must not block
// the caller on slow subscribers.
type Notifier interface {
	Notify(ctx context.Context, topics ...visitflow.Topic)
}

// Message is the only frame ever sent to subscribers.
type Message struct {
	Event visitflow.Topic `json:"event"`
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, ...visitflow.Topic) {}

// Multi fans each event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, topics ...visitflow.Topic) {
	if len(topics) == 0 {
		return
	}
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, topics...)
		}
	}
}

// DefaultTopics are subscribed for a connection of the given role. Master
// watches everything.
func DefaultTopics(role string) []visitflow.Topic {
	switch role {
	case "Master":
		return visitflow.Topics()
	case "OP":
		return []visitflow.Topic{visitflow.TopicPendingApprovals, visitflow.TopicDoctorQueue}
	case "Doctor":
		return []visitflow.Topic{visitflow.TopicDoctorQueue, visitflow.TopicInventory, visitflow.TopicLabTestList}
	case "Pharmacy":
		return []visitflow.Topic{visitflow.TopicPharmacyQueue, visitflow.TopicInventory}
	case "Lab":
		return []visitflow.Topic{visitflow.TopicLabQueue}
	case "Office":
		return []visitflow.Topic{
			visitflow.TopicInventory,
			visitflow.TopicLabTestList,
			visitflow.TopicReports,
			visitflow.TopicDoctorQueue,
			visitflow.TopicPharmacyQueue,
		}
	}
	return nil
}
