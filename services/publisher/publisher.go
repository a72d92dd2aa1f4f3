package publisher

// Publisher defines the interface for publishing newly ingested listings
// to downstream consumers
type Publisher interface {
	// Publish publishes a message under a source key
	Publish(source string, message []byte) error

	// TrimStreams trims the backing streams to their configured maximum length
	TrimStreams() error

	// Close closes the publisher
	Close() error
}
