package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/edgestream/internal/clocksync"
	"github.com/danmuck/edgestream/internal/stream"
	"github.com/rs/zerolog/log"
)

// LatencyLog appends tab-separated timing records, one per resolved frame:
//
//	frame_id engine_id generated encoded received ready status
//
// Times are Unix milliseconds. Clock samples are written as
//
//	# sync <phase> sent server received
type LatencyLog struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

func NewLatencyLog(w io.Writer) *LatencyLog {
	l := &LatencyLog{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

func OpenLatencyLog(path string) (*LatencyLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open latency log: %w", err)
	}
	return NewLatencyLog(f), nil
}

func (l *LatencyLog) Consume(d stream.Delivery) {
	l.write("%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
		d.FrameID, d.EngineID,
		millis(d.GeneratedAt), millis(d.EncodedAt), millis(d.ReceivedAt), millis(d.ResultReadyAt),
		d.Status)
}

func (l *LatencyLog) ObserveClock(_ string, phase string, s clocksync.Sample) {
	l.write("# sync\t%s\t%d\t%d\t%d\n", phase, millis(s.Sent), s.Server, millis(s.Received))
}

func (l *LatencyLog) write(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.w, format, args...); err != nil {
		log.Warn().Str("component", "sink.latency").Err(err).Msg("latency log write failed")
		return
	}
	if err := l.w.Flush(); err != nil {
		log.Warn().Str("component", "sink.latency").Err(err).Msg("latency log flush failed")
	}
}

func (l *LatencyLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
