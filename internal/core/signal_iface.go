package core

// Frame is a raw serialized payload pushed to an observer connection.
type Frame []byte

// SignalConnection abstracts an outbound observer transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
