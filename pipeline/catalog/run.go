package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Run identifies one pipeline execution in every sink it writes to.
type Run struct {
	ID        string
	StartedAt time.Time
}

func NewRun() Run {
	return Run{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
}
