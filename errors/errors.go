package errors

import "fmt"

var (
	// ErrChatResolution means both the chat lookup and the creation attempt
	// failed with non-recoverable errors.
	ErrChatResolution = fmt.Errorf("chat could not be found or created")

	// ErrStoreRead covers pagination fetch failures against the messages table.
	ErrStoreRead = fmt.Errorf("message fetch failed")

	// ErrStoreWrite covers insert/delete failures against messages or chats.
	ErrStoreWrite = fmt.Errorf("store write failed")

	// ErrFeedDisconnected means the change-feed subscription dropped and
	// cannot deliver further events.
	ErrFeedDisconnected = fmt.Errorf("change feed disconnected")

	// ErrImageTooLarge means no compression candidate met the size budget.
	ErrImageTooLarge = fmt.Errorf("image exceeds size budget after compression")

	// ErrUpload covers blob transport failures.
	ErrUpload = fmt.Errorf("blob upload failed")

	// ErrNotFound marks a row that does not exist in the store. Callers
	// deleting a message treat it as success.
	ErrNotFound = fmt.Errorf("row not found")

	// ErrAlreadyExists marks a uniqueness conflict, e.g. two clients creating
	// the chat for the same participant pair concurrently.
	ErrAlreadyExists = fmt.Errorf("row already exists")

	// ErrWorkerPanic is what the supervisor reports when a worker's Run
	// panics instead of returning.
	ErrWorkerPanic = fmt.Errorf("worker panicked")
)
