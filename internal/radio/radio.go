// Package radio defines the contract to the transport collaborator that
// owns the physical mesh link. Real transports (USB-serial, short-range
// wireless) live outside this repository; the package ships a synthetic
// implementation for development and tests.
package radio

// Interface is what the ingest pipeline needs from a transport: decoded
// inbound packets as loosely-typed trees, the local identity, the peer-node
// table, and a best-effort outbound text primitive.
//
// Packets is the single-consumer entry point into the pipeline; the channel
// closes when the transport shuts down. Bytes payloads must be surfaced as
// base64-encoded fields before delivery.
type Interface interface {
	Packets() <-chan map[string]any

	// MyInfo returns the device identity tree (user id, names). May be nil
	// when the transport has not learned it yet.
	MyInfo() map[string]any

	// Nodes returns the peer-node table keyed by node id. May be nil.
	Nodes() map[string]any

	// SendText transmits a text message to a node id, best effort.
	SendText(destID, text string) error

	Close() error
}
