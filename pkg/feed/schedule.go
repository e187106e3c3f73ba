package feed

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

type Flusher interface {
	Flush()
}

// FlushScheduler sends a flush on a cron schedule, "@midnight" by default.
type FlushScheduler struct {
	cron *cron.Cron
	id   cron.EntryID
}

func NewFlushScheduler(spec string, f Flusher, logger *log.Logger) (*FlushScheduler, error) {
	if spec == "" {
		spec = "@midnight"
	}
	if logger == nil {
		logger = log.Default()
	}
	c := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
	id, err := c.AddFunc(spec, f.Flush)
	if err != nil {
		return nil, fmt.Errorf("flush schedule %q: %w", spec, err)
	}
	return &FlushScheduler{cron: c, id: id}, nil
}

func (s *FlushScheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running flush to finish.
func (s *FlushScheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entry exposes the scheduled job, mainly for its next run time.
func (s *FlushScheduler) Entry() cron.Entry {
	return s.cron.Entry(s.id)
}
