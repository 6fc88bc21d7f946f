package connection

import "github.com/pscheid92/pulselink/internal/domain"

// event is the input alphabet of the manager's state machine.
type event interface{ isEvent() }

type baseEvent struct{}

func (baseEvent) isEvent() {}

type startCmd struct {
	baseEvent
	reply chan struct{}
}

type stopCmd struct {
	baseEvent
	reply chan struct{}
}

type shutdownCmd struct {
	baseEvent
	reply chan struct{}
}

type statusQuery struct {
	baseEvent
	reply chan Status
}

// dialResult reports the end of a dial. conn is nil when err is set.
type dialResult struct {
	baseEvent
	attemptID string
	conn      domain.Conn
	err       error
}

// socketClosed reports that the read loop of an open socket ended.
type socketClosed struct {
	baseEvent
	attemptID string
	err       error
}

type watchdogFired struct {
	baseEvent
	attemptID string
}

type backoffElapsed struct {
	baseEvent
	epoch uint64
}
