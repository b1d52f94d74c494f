package relay

import "github.com/pscheid92/chatrelay/internal/domain"

// supervisorCmd is the command interface for the Supervisor actor.
type supervisorCmd interface{ isSupervisorCmd() }

type baseSupervisorCmd struct{}

func (baseSupervisorCmd) isSupervisorCmd() {}

type connectCmd struct {
	baseSupervisorCmd
}

type setIdentityCmd struct {
	baseSupervisorCmd
	identity *domain.Identity
	reply    chan error
}

type identityCmd struct {
	baseSupervisorCmd
	reply chan *domain.Identity
}

type registerCmd struct {
	baseSupervisorCmd
	consumer Consumer
	reply    chan error
}

type deregisterCmd struct {
	baseSupervisorCmd
	consumerID string
}

type watchCmd struct {
	baseSupervisorCmd
	consumerID string
	channel    string
	reply      chan error
}

type unwatchCmd struct {
	baseSupervisorCmd
	consumerID string
	channel    string
}

type sendTextCmd struct {
	baseSupervisorCmd
	channel string
	text    string
	reply   chan error
}

type statusCmd struct {
	baseSupervisorCmd
	reply chan Status
}

type stopCmd struct {
	baseSupervisorCmd
}

// Commands below come from helper goroutines and timers. gen ties them to
// the connection or timer that produced them.

type dialResultCmd struct {
	baseSupervisorCmd
	gen  uint64
	conn Conn
	err  error
}

type frameCmd struct {
	baseSupervisorCmd
	gen     uint64
	payload string
}

type closedCmd struct {
	baseSupervisorCmd
	gen uint64
	err error
}

type reconnectTimerCmd struct {
	baseSupervisorCmd
	gen uint64
}

type keepaliveTickCmd struct {
	baseSupervisorCmd
	gen uint64
}
