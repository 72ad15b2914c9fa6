package flow

import (
	"fmt"
	"sync"

	"github.com/danmuck/edgestream/internal/observability"
	"github.com/rs/zerolog/log"
)

// Controller is the credit ledger and sent-frame correlator for one session.
// A single mutex covers credits, watermark and the pending map.
type Controller struct {
	mu        sync.Mutex
	credits   int64
	initial   int64
	watermark int64
	lastSent  int64
	pending   map[int64]SentRecord
	retain    bool
}

func New(cfg Config) *Controller {
	c := &Controller{
		credits: int64(cfg.InitialCredits),
		initial: int64(cfg.InitialCredits),
		pending: make(map[int64]SentRecord),
		retain:  cfg.Retain,
	}
	c.publish(c.credits, 0)
	return c
}

func (c *Controller) TryAcquire() bool {
	c.mu.Lock()
	if c.credits <= 0 {
		c.mu.Unlock()
		return false
	}
	c.credits--
	credits, pending := c.credits, len(c.pending)
	c.mu.Unlock()

	c.publish(credits, pending)
	return true
}

// RecordSent registers an admitted frame. Call it before the frame is written
// so a fast response always finds its entry.
func (c *Controller) RecordSent(rec SentRecord) error {
	c.mu.Lock()
	if _, exists := c.pending[rec.FrameID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateFrame, rec.FrameID)
	}
	c.pending[rec.FrameID] = rec
	if rec.FrameID > c.lastSent {
		c.lastSent = rec.FrameID
	}
	credits, pending := c.credits, len(c.pending)
	c.mu.Unlock()

	c.publish(credits, pending)
	return nil
}

// Abort undoes RecordSent and returns the frame's credit after a failed write.
// It reports false when the frame was already resolved or never recorded.
func (c *Controller) Abort(frameID int64) bool {
	c.mu.Lock()
	if _, ok := c.pending[frameID]; !ok || frameID <= c.watermark {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, frameID)
	c.credits++
	credits, pending := c.credits, len(c.pending)
	c.mu.Unlock()

	observability.RecordReclaimed("abort", 1)
	c.publish(credits, pending)
	return true
}

// OnResult correlates a server result with its sent record and reclaims
// credit for it and for every unresolved frame the server skipped past.
func (c *Controller) OnResult(r ResultRecord) (SentRecord, bool) {
	c.mu.Lock()
	if r.FrameID <= 0 || r.FrameID > c.lastSent {
		c.mu.Unlock()
		log.Warn().
			Str("component", "flow").
			Int64("frame_id", r.FrameID).
			Str("engine_id", r.EngineID).
			Msg("result for a frame that was never sent")
		return SentRecord{}, false
	}

	swept := c.sweepGap(r.FrameID)
	rec, found := c.lookup(r.FrameID)
	acked := c.creditCurrent(r.FrameID, found)
	c.advance(r.FrameID)
	credits, pending := c.credits, len(c.pending)
	c.mu.Unlock()

	observability.RecordReclaimed("sweep", swept)
	if acked {
		observability.RecordReclaimed("ack", 1)
	} else {
		observability.RecordStaleResult()
	}
	c.publish(credits, pending)
	return rec, found
}

// sweepGap credits every pending frame in (watermark, frameID). In retention
// mode entries stay in place; the watermark bound keeps each credited once.
func (c *Controller) sweepGap(frameID int64) int {
	granted := 0
	for id := c.watermark + 1; id < frameID; id++ {
		if _, ok := c.pending[id]; !ok {
			continue
		}
		if !c.retain {
			delete(c.pending, id)
		}
		c.credits++
		granted++
	}
	return granted
}

func (c *Controller) lookup(frameID int64) (SentRecord, bool) {
	rec, ok := c.pending[frameID]
	if !ok {
		return SentRecord{}, false
	}
	if !c.retain && frameID > c.watermark {
		delete(c.pending, frameID)
	}
	return rec, true
}

func (c *Controller) creditCurrent(frameID int64, found bool) bool {
	if !found || frameID <= c.watermark {
		return false
	}
	c.credits++
	return true
}

func (c *Controller) advance(frameID int64) {
	if frameID > c.watermark {
		c.watermark = frameID
	}
}

// Grant applies a server-announced credit grant. Frames already in flight
// keep their pending entries and count against the new grant, so credits may
// go negative until their results arrive.
func (c *Controller) Grant(credits int) {
	c.mu.Lock()
	inFlight := c.inFlight()
	c.initial = int64(credits)
	c.credits = c.initial - int64(inFlight)
	current, pending := c.credits, len(c.pending)
	c.mu.Unlock()

	log.Debug().
		Str("component", "flow").
		Int("grant", credits).
		Int("in_flight", inFlight).
		Int64("credits", current).
		Msg("credit grant applied")
	c.publish(current, pending)
}

// inFlight counts pending frames whose credit has not been reclaimed.
func (c *Controller) inFlight() int {
	n := 0
	for id := range c.pending {
		if id > c.watermark {
			n++
		}
	}
	return n
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Credits:   c.credits,
		Watermark: c.watermark,
		LastSent:  c.lastSent,
		Pending:   len(c.pending),
		Initial:   c.initial,
		Retain:    c.retain,
	}
}

func (c *Controller) publish(credits int64, pending int) {
	observability.SetLedger(credits, pending)
}
