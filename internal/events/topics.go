package events

// Topic constants for domain events emitted by the pricing platform.
const (
	TopicPricingCompleted     = "pricing.completed"
	TopicReservationCreated   = "reservation.created"
	TopicReservationCommitted = "reservation.committed"
	TopicReservationReleased  = "reservation.released"
	TopicRulesInvalidated     = "rules.invalidated"
)
