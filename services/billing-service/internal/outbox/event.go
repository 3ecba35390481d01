package outbox

// Event is a billing domain event staged in the outbox table within
// the same transaction as the state change it describes. The publisher
// ships each event to the Kafka topic named by EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
