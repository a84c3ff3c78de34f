package scheduler

import "time"

// IntervalTrigger fires every Interval starting at StartTime. It satisfies
// cron.Schedule.
type IntervalTrigger struct {
	Interval  time.Duration
	StartTime time.Time
}

func Every(interval time.Duration) *IntervalTrigger {
	return &IntervalTrigger{Interval: interval}
}

// Next returns the first StartTime + n*Interval strictly after t. A zero
// interval never fires; a zero StartTime counts from t.
func (tr IntervalTrigger) Next(t time.Time) time.Time {
	if tr.Interval <= 0 {
		return time.Time{}
	}
	if tr.StartTime.IsZero() {
		return t.Add(tr.Interval)
	}
	if tr.StartTime.After(t) {
		return tr.StartTime
	}
	n := t.Sub(tr.StartTime)/tr.Interval + 1
	return tr.StartTime.Add(n * tr.Interval)
}
