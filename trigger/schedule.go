package trigger

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/workflow"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// fixedRate fires at every multiple of every since the Unix epoch, so all
// nodes agree on the slots.
type fixedRate struct {
	every time.Duration
}

func (f fixedRate) Next(t time.Time) time.Time {
	return t.Truncate(f.every).Add(f.every)
}

// ParseSchedule returns the schedule of a workflow trigger. MANUAL
// workflows have no schedule and return nil.
func ParseSchedule(kind workflow.TriggerType, value string) (cronlib.Schedule, error) {
	switch kind {
	case workflow.TriggerCron:
		s, err := cronParser.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("%w: cron %q: %w", cadence.ErrInvalidConfig, value, err)
		}
		return s, nil
	case workflow.TriggerFixedRate:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%w: fixed rate %q: %w", cadence.ErrInvalidConfig, value, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("%w: fixed rate %s below one second", cadence.ErrInvalidConfig, d)
		}
		return fixedRate{every: d}, nil
	case workflow.TriggerManual, "":
		return nil, nil //nolint:nilnil // manual workflows have no schedule
	}
	return nil, fmt.Errorf("%w: trigger type %q", cadence.ErrInvalidConfig, kind)
}

// EventID is the deterministic broadcast id of the fire of workflowID at.
func EventID(workflowID int64, at time.Time) string {
	return fmt.Sprintf("cron:%d:%d", workflowID, at.Unix())
}
