package hidraw

import (
	"context"
	"time"
)

// IO is the contract driver dialects are written against, implemented
// by *DeviceIo against a real /dev/hidrawN node and by *Stub against an
// in-memory fake for the bus adapter's test interface.
type IO interface {
	WriteReport(report []byte) error
	ReadReport(ctx context.Context) ([]byte, error)
	FeatureReportGet(reportID byte, length int) ([]byte, error)
	FeatureReportSet(data []byte) error
	Request(ctx context.Context, report []byte, matcher Matcher, timeout time.Duration, retries int) ([]byte, error)
	Close() error
}
