package orders

import "strconv"

const (
	TopicOrderCreated   = "order.created"
	TopicOrderFinalized = "order.finalized"
	TopicOrderCancelled = "order.cancelled"
	TopicOrderUpdated   = "order.updated"
	TopicOrderRemoved   = "order.removed"
)

// LifecycleTopics lists every topic the workflow publishes to.
var LifecycleTopics = []string{
	TopicOrderCreated,
	TopicOrderFinalized,
	TopicOrderCancelled,
	TopicOrderUpdated,
	TopicOrderRemoved,
}

// Partition key = order id, so all events of one order keep their order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
