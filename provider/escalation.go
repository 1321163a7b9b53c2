package provider

import (
	"context"
	"log"

	"github.com/attunehealth/attune/models"
)

// LogEscalations writes handoff records to the process log. It stands in for
// a real paging integration in development and tests.
type LogEscalations struct {
	Logger *log.Logger
}

func NewLogEscalations(logger *log.Logger) *LogEscalations {
	if logger == nil {
		logger = log.New(log.Writer(), "[ESCALATE] ", log.LstdFlags)
	}
	return &LogEscalations{Logger: logger}
}

func (l *LogEscalations) Deliver(ctx context.Context, rec models.HandoffRecord) error {
	l.Logger.Printf("handoff %s session=%s priority=%s situation=%q recommendation=%q",
		rec.ID, rec.SessionID, rec.Priority, rec.Situation, rec.Recommendation)
	return nil
}
