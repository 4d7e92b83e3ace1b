package daemon

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
)

// Scheduler wraps gocron for the daemon's recurring jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, gerrors.InternalError("create scheduler", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.With(logfields.Component("scheduler")),
	}, nil
}

// Every registers a named task on a fixed interval. The first run happens one
// interval after Start.
func (s *Scheduler) Every(interval time.Duration, name string, task func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return gerrors.InternalError("schedule "+name, err)
	}
	s.logger.Info("scheduled recurring job",
		logfields.JobName(name),
		slog.Duration("interval", interval))
	return nil
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
