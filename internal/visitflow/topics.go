package visitflow

// Topic is the name of a payload-less invalidation event. Subscribers react
// to a topic by re-querying its queue; the event never carries entity data.
type Topic string

const (
	TopicDoctorQueue      Topic = "doctorQueueUpdate"
	TopicLabQueue         Topic = "labQueueUpdate"
	TopicPharmacyQueue    Topic = "pharmacyQueueUpdate"
	TopicPendingApprovals Topic = "pendingApprovalsUpdate"
	TopicStaffList        Topic = "staffListUpdate"
	TopicInventory        Topic = "inventoryUpdate"
	TopicLabTestList      Topic = "labTestListUpdate"
	TopicReports          Topic = "reportsUpdate"
)

var topics = []Topic{
	TopicDoctorQueue,
	TopicLabQueue,
	TopicPharmacyQueue,
	TopicPendingApprovals,
	TopicStaffList,
	TopicInventory,
	TopicLabTestList,
	TopicReports,
}

// Topics returns every known topic.
func Topics() []Topic {
	out := make([]Topic, len(topics))
	copy(out, topics)
	return out
}

// Known reports whether t is a published topic.
func (t Topic) Known() bool {
	for _, known := range topics {
		if t == known {
			return true
		}
	}
	return false
}

// Topic returns the invalidation topic of a queue.
func (q Queue) Topic() Topic {
	switch q {
	case QueueOPApproval:
		return TopicPendingApprovals
	case QueueDoctor:
		return TopicDoctorQueue
	case QueueLab:
		return TopicLabQueue
	case QueuePharmacy:
		return TopicPharmacyQueue
	}
	return ""
}

// TopicsFor lists the topics to publish after a visit moved from one status
// to another: the queue it left, the queue it entered, and the daily
// reports whenever a visit is opened or closed.
func TopicsFor(from, to Status) []Topic {
	var out []Topic
	add := func(t Topic) {
		if t == "" {
			return
		}
		for _, existing := range out {
			if existing == t {
				return
			}
		}
		out = append(out, t)
	}

	add(QueueOf(from).Topic())
	add(QueueOf(to).Topic())
	if from == StatusNone || (to == StatusCompleted && from != StatusCompleted) {
		add(TopicReports)
	}
	return out
}
