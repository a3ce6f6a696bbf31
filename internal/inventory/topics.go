package inventory

const (
	TopicReservationCreated  = "inventory.reservation.created"
	TopicReservationReleased = "inventory.reservation.released"
	TopicOrderStatusChanged  = "inventory.order.status_changed"
	TopicReclaimRequested    = "inventory.reclaim.requested"
)

// Partition key = product_id so all stock events for one product keep order.
func PartitionKey(productID string) []byte { return []byte(productID) }
