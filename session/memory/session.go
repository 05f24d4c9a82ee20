package memory

import (
	"time"

	"github.com/byuoitav/sessionstore/session"
)

// entry is the stored form of a session record
type entry struct {
	data       string
	createdAt  time.Time
	modifiedAt *time.Time
}

func (e *entry) record(id string) session.Record {
	return session.Record{
		ID:         id,
		Data:       e.data,
		CreatedAt:  e.createdAt,
		ModifiedAt: e.modifiedAt,
	}
}

// touch replaces the payload and stamps the modification time
func (e *entry) touch(data string, now time.Time) {
	e.data = data
	e.modifiedAt = &now
}
