package entity

import "github.com/oklog/ulid/v2"

// Entity ids are a type prefix plus a ULID. ULIDs start with a millisecond
// timestamp, so lexicographic order approximates creation order.
const (
	ProjectIDPrefix = "proj"
	TaskIDPrefix    = "task"
	SessionIDPrefix = "sess"
)

func NewID(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}
