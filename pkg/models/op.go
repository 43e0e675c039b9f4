package models

// OpKind represents an operation kind for the persistence pipeline.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// PendingOperation is a store mutation awaiting serialized execution.
// It is owned by the coordinator queue from enqueue until the apply
// worker has executed it. ExpectedVersion zero means unconditional.
type PendingOperation struct {
	Kind     OpKind
	RecordID string
	// Payload holds the raw record payload (may be nil for deletes).
	Payload         []byte
	ExpectedVersion int64
	// TS is the submission timestamp (nanoseconds).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the op is
	// accepted into the queue; FIFO order inside the queue follows it.
	EnqSeq uint64
}
