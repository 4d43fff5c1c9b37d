package broadcast

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	Broadcast(topic string, delivered int)
	Rejected(topic string)
	Suspended(topic string)
	Resumed(topic string, outcome Outcome)
	TaskFired(topic string)
	TaskFailed(topic string, err error)
	ClusterFailed(topic string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Broadcast(string, int)       {}
func (NopObserver) Rejected(string)             {}
func (NopObserver) Suspended(string)            {}
func (NopObserver) Resumed(string, Outcome)     {}
func (NopObserver) TaskFired(string)            {}
func (NopObserver) TaskFailed(string, error)    {}
func (NopObserver) ClusterFailed(string, error) {}
