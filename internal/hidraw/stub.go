package hidraw

import (
	"context"
	"sync"
	"time"

	"github.com/ratbagd/ratbagd/internal/raterr"
)

// Responder computes the reports a Stub should answer with for one
// outgoing report, letting tests script a dialect's wire behaviour
// without a kernel hidraw node. Returning a nil slice means "no
// response" (useful for simulating a Timeout).
type Responder func(outgoing []byte) [][]byte

// Stub is an in-memory IO implementation backing the bus adapter's
// LoadTestDevice test hook and driver unit tests. It mimics DeviceIo's
// request/matcher demux without touching any real file descriptor.
type Stub struct {
	mu          sync.Mutex
	respond     Responder
	incoming    chan []byte
	sideChannel *sideChannelQueue
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewStub builds a Stub whose Responder decides what to answer with for
// each WriteReport/Request call.
func NewStub(respond Responder) *Stub {
	return &Stub{
		respond:     respond,
		incoming:    make(chan []byte, incomingBufCapacity),
		sideChannel: newSideChannelQueue(),
		closed:      make(chan struct{}),
	}
}

// Inject pushes an unsolicited report into the stub's incoming stream,
// as if the device had sent it asynchronously (battery notifications,
// wheel events) — useful for testing matcher fairness.
func (s *Stub) Inject(report []byte) {
	select {
	case s.incoming <- report:
	case <-s.closed:
	}
}

func (s *Stub) WriteReport(report []byte) error {
	s.mu.Lock()
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return nil
	}
	for _, r := range respond(report) {
		select {
		case s.incoming <- r:
		case <-s.closed:
			return raterr.New("WriteReport", raterr.Disconnected, nil)
		}
	}
	return nil
}

func (s *Stub) ReadReport(ctx context.Context) ([]byte, error) {
	return s.sideChannel.wait(ctx, s.closed)
}

func (s *Stub) FeatureReportGet(reportID byte, length int) ([]byte, error) {
	buf := make([]byte, length)
	buf[0] = reportID
	return buf, nil
}

func (s *Stub) FeatureReportSet(data []byte) error { return nil }

func (s *Stub) Request(ctx context.Context, report []byte, matcher Matcher, timeout time.Duration, retries int) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := backoffInitial
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
		if err := s.WriteReport(report); err != nil {
			return nil, err
		}
		resp, err := s.awaitMatch(ctx, matcher, timeout)
		if err == nil {
			return resp, nil
		}
		if rerr, ok := err.(*raterr.Error); ok && (rerr.Kind == raterr.Disconnected || rerr.Kind == raterr.ProtocolError) {
			return nil, err
		}
		lastErr = err
	}
	return nil, raterr.New("Request", raterr.Unresponsive, lastErr)
}

func (s *Stub) awaitMatch(ctx context.Context, matcher Matcher, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case report := <-s.incoming:
			switch matcher(report) {
			case Match:
				return report, nil
			case ErrorResponse:
				return nil, raterr.New("Request", raterr.ProtocolError, nil)
			case NotMine:
				s.deliverSideChannel(report)
			}
		case <-s.closed:
			return nil, raterr.New("Request", raterr.Disconnected, nil)
		case <-deadline.C:
			return nil, raterr.New("Request", raterr.Timeout, nil)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Stub) deliverSideChannel(report []byte) {
	s.sideChannel.push(report)
}

func (s *Stub) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

var _ IO = (*Stub)(nil)
var _ IO = (*DeviceIo)(nil)

// SetResponder changes the scripted response function, useful for tests
// that want to simulate a PartialCommit after an initial successful
// exchange.
func (s *Stub) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = r
}
