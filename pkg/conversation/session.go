package conversation

import "context"

type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateArtifacts
	UpdateStatus
)

// Update is one item a session produces during a round trip, delivered in arrival order.
type Update struct {
	Kind      UpdateKind
	Message   Message
	Artifacts []Artifact
	Status    Status
}

func MessageUpdate(m Message) Update {
	return Update{Kind: UpdateMessage, Message: m}
}

func ArtifactsUpdate(list []Artifact) Update {
	return Update{Kind: UpdateArtifacts, Artifacts: list}
}

func StatusUpdate(s Status) Update {
	return Update{Kind: UpdateStatus, Status: s}
}

type Emit func(Update)

// Session is one protocol conversation with a remote agent. Implementations keep
// their own continuity id and are driven by a single Controller.
//
// Close discards the continuity id. An Exchange still running on a closed session stops
// at its next network boundary, and whatever it returns is ignored.
type Session interface {
	Transport() Transport
	ContinuityID() string
	Open(ctx context.Context, emit Emit) error
	Exchange(ctx context.Context, text string, emit Emit) error
	Close()
}
