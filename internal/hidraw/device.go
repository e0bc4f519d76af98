package hidraw

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/ratbagd/ratbagd/internal/raterr"
)

// MatchResult is the verdict a Matcher returns for one incoming report.
type MatchResult int

const (
	// NotMine means the report isn't the answer to this request; it is
	// redelivered to the side channel for asynchronous consumers.
	NotMine MatchResult = iota
	// Match means this report is the request's result.
	Match
	// ErrorResponse means the device answered with an error for this
	// request; Request fails immediately with ProtocolError.
	ErrorResponse
)

// Matcher classifies one incoming report against an outstanding request.
type Matcher func(report []byte) MatchResult

const (
	defaultTimeout      = 500 * time.Millisecond
	defaultRetries      = 3
	backoffInitial      = 50 * time.Millisecond
	backoffCap          = 1 * time.Second
	incomingBufCapacity = 8
)

// sideChannelQueue holds reports a Matcher classified NotMine until
// ReadReport drains them. It grows without bound rather than dropping:
// matcher fairness (spec: a NotMine report is delivered exactly once,
// never dropped) doesn't hold for a fixed-capacity buffer under bursty
// async traffic, and real devices' async event rate is low enough that
// unbounded growth never becomes a practical problem between ReadReport
// calls.
type sideChannelQueue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newSideChannelQueue() *sideChannelQueue {
	return &sideChannelQueue{signal: make(chan struct{}, 1)}
}

func (q *sideChannelQueue) push(report []byte) {
	q.mu.Lock()
	q.items = append(q.items, report)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *sideChannelQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	report := q.items[0]
	q.items = q.items[1:]
	return report, true
}

// wait blocks until a report is available, closed closes, or ctx is
// cancelled.
func (q *sideChannelQueue) wait(ctx context.Context, closed <-chan struct{}) ([]byte, error) {
	for {
		if report, ok := q.pop(); ok {
			return report, nil
		}
		select {
		case <-q.signal:
		case <-closed:
			return nil, raterr.New("ReadReport", raterr.Disconnected, nil)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// DeviceIo is the raw-HID channel: one open fd per device, owned
// exclusively by that device's actor. Only one Request may
// be in flight at a time; the actor enforces that by being single-
// threaded, so DeviceIo itself does not need an internal request lock.
type DeviceIo struct {
	fd   int
	path string

	reportSize int

	incoming    chan []byte
	sideChannel *sideChannelQueue
	readErr     chan error
	closeOnce   sync.Once
	closed      chan struct{}
}

// Open opens path (e.g. "/dev/hidraw3") and starts the background reader
// goroutine that feeds Request's matcher demux and the side channel.
// reportSize bounds the buffer used for each read(2); HID reports are
// never reassembled or framed beyond what the kernel hands back.
func Open(path string, reportSize int) (*DeviceIo, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return nil, raterr.New("Open", raterr.Disconnected, err)
	}
	d := &DeviceIo{
		fd:          fd,
		path:        path,
		reportSize:  reportSize,
		incoming:    make(chan []byte, incomingBufCapacity),
		sideChannel: newSideChannelQueue(),
		readErr:     make(chan error, 1),
		closed:      make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

// RawInfo returns the bus type / vendor / product the kernel recorded
// for this node via HIDIOCGRAWINFO.
func (d *DeviceIo) RawInfo() (busType uint32, vendor, product uint16, err error) {
	return rawInfo(d.fd)
}

// ReportDescriptor returns the device's raw HID report descriptor.
func (d *DeviceIo) ReportDescriptor() ([]byte, error) {
	return reportDescriptor(d.fd)
}

func (d *DeviceIo) readLoop() {
	buf := make([]byte, d.reportSize)
	for {
		n, err := syscall.Read(d.fd, buf)
		if err != nil {
			select {
			case d.readErr <- err:
			default:
			}
			d.closeOnce.Do(func() {
				syscall.Close(d.fd)
				close(d.closed)
			})
			return
		}
		if n <= 0 {
			continue
		}
		report := append([]byte(nil), buf[:n]...)
		select {
		case d.incoming <- report:
		case <-d.closed:
			return
		}
	}
}

// WriteReport writes an outgoing HID output report verbatim; no framing
// is added beyond what the caller supplies.
func (d *DeviceIo) WriteReport(report []byte) error {
	_, err := syscall.Write(d.fd, report)
	if err != nil {
		return raterr.New("WriteReport", raterr.Disconnected, err)
	}
	return nil
}

// ReadReport reads one report from the side channel, blocking until one
// arrives or ctx is cancelled. It is how a driver's event-listening
// goroutine (battery notifications, wheel events) consumes reports that
// Request's matcher classified as NotMine.
func (d *DeviceIo) ReadReport(ctx context.Context) ([]byte, error) {
	return d.sideChannel.wait(ctx, d.closed)
}

// FeatureReportGet issues HIDIOCGFEATURE for reportID.
func (d *DeviceIo) FeatureReportGet(reportID byte, length int) ([]byte, error) {
	b, err := getFeatureReport(d.fd, reportID, length)
	if err != nil {
		return nil, raterr.New("FeatureReportGet", raterr.ProtocolError, err)
	}
	return b, nil
}

// FeatureReportSet issues HIDIOCSFEATURE; data[0] must be the report ID.
func (d *DeviceIo) FeatureReportSet(data []byte) error {
	if err := setFeatureReport(d.fd, data); err != nil {
		return raterr.New("FeatureReportSet", raterr.ProtocolError, err)
	}
	return nil
}

// Request is the request/response correlation primitive: it submits
// report, then classifies every incoming report with matcher until one
// matches, fails, or the attempt times out. On Timeout it retries up to
// retries times with exponential backoff (50ms, 100ms, 200ms, capped at
// 1s) before failing Unresponsive. An I/O error fails Disconnected and
// is never retried.
func (d *DeviceIo) Request(ctx context.Context, report []byte, matcher Matcher, timeout time.Duration, retries int) ([]byte, error) {
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

		if err := d.WriteReport(report); err != nil {
			return nil, err
		}

		resp, err := d.awaitMatch(ctx, matcher, timeout)
		if err == nil {
			return resp, nil
		}
		if rerr, ok := err.(*raterr.Error); ok && rerr.Kind == raterr.Disconnected {
			return nil, err
		}
		if rerr, ok := err.(*raterr.Error); ok && rerr.Kind == raterr.ProtocolError {
			return nil, err
		}
		lastErr = err
	}
	return nil, raterr.New("Request", raterr.Unresponsive, lastErr)
}

func (d *DeviceIo) awaitMatch(ctx context.Context, matcher Matcher, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case report := <-d.incoming:
			switch matcher(report) {
			case Match:
				return report, nil
			case ErrorResponse:
				return nil, raterr.New("Request", raterr.ProtocolError, fmt.Errorf("device returned an error response"))
			case NotMine:
				d.deliverSideChannel(report)
			}
		case err := <-d.readErr:
			return nil, raterr.New("Request", raterr.Disconnected, err)
		case <-d.closed:
			return nil, raterr.New("Request", raterr.Disconnected, nil)
		case <-deadline.C:
			return nil, raterr.New("Request", raterr.Timeout, nil)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// deliverSideChannel redelivers a NotMine report exactly once; the
// report is queued until ReadReport drains it, never dropped.
func (d *DeviceIo) deliverSideChannel(report []byte) {
	d.sideChannel.push(report)
}

// Close releases the underlying file descriptor and unblocks any
// goroutine waiting in Request/ReadReport with Disconnected.
func (d *DeviceIo) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = syscall.Close(d.fd)
		close(d.closed)
	})
	return err
}

// Path returns the device node path this channel was opened against.
func (d *DeviceIo) Path() string { return d.path }
