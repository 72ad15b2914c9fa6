// Package channel carries frame submissions to the server and results back,
// over either the three-connection byte-stream protocol or a single
// websocket.
package channel

import (
	"context"

	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/protocol/message"
)

type Channel interface {
	Send(ctx context.Context, sub Submission) error
	// Receive blocks until the next welcome or result. Soft protocol errors
	// are logged and skipped; every returned error is fatal.
	Receive(ctx context.Context) (Inbound, error)
	Close() error
}

// GrantAnnouncer is implemented by channels whose server announces the
// credit grant in a welcome. Nothing may be sent before it arrives.
type GrantAnnouncer interface {
	AnnouncesGrant() bool
}

type Submission struct {
	FrameID     int64
	Payload     []byte
	HoloCapture bool
	PayloadType message.PayloadType
	EngineName  string
}

// Inbound holds exactly one of Welcome or Result.
type Inbound struct {
	Welcome *Welcome
	Result  *Result
}

type Welcome struct {
	Credits int
	Engines []string
}

type Result struct {
	Record   flow.ResultRecord
	Guidance Guidance
	// Superseded results were computed against an engine state the client
	// already replaced. They still resolve their frame but carry no guidance.
	Superseded bool
}

type Guidance struct {
	Text     string
	Image    []byte
	Position *Position
	Raw      []byte
	Payloads []message.Payload
}

func (g Guidance) Empty() bool {
	return g.Text == "" && len(g.Image) == 0 && g.Position == nil && len(g.Raw) == 0 && len(g.Payloads) == 0
}

// Position is a hologram placement in screen coordinates plus depth.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Depth float64 `json:"depth"`
}
