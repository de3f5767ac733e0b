package syncer

// EventSink receives run lifecycle notifications. The dashboard broadcasts
// them to connected clients; the default sink discards everything.
// Implementations must not block: events fire inline on the sync path.
type EventSink interface {
	RunStarted(action string)
	PageFetched(page, records int)
	DayMaterialized(date string, records int)
	RunCompleted(outcome Outcome, err error)
}

type nopEvents struct{}

func (nopEvents) RunStarted(string)           {}
func (nopEvents) PageFetched(int, int)        {}
func (nopEvents) DayMaterialized(string, int) {}
func (nopEvents) RunCompleted(Outcome, error) {}
