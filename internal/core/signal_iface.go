package core

// Frame is one encoded message pushed to a view.
type Frame []byte

// ViewConnection is the push side of a mounted view.
// Owned by the adapter; the adapter must Close() it.
type ViewConnection interface {
	TrySend(Frame) error
	Close()
}
