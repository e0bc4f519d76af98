// Package hidpp20 implements the HID++ 2.0 family of dialects: a
// long-report (20-byte) request/response protocol with feature discovery
// through a Root feature, used by most modern Logitech-class gaming
// mice.
package hidpp20

import (
	"context"
	"fmt"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/raterr"
)

func init() {
	driver.Register("hidpp20", New)
}

const (
	reportIDLong = 0x11
	longReportSize = 20

	deviceIndexDefault = 0xFF // wired/receiver-less mice address themselves this way

	errorResponseSubID = 0x8F

	softwareID = 0x5 // arbitrary nibble identifying this driver's requests on the wire
)

// feature IDs consumed by this dialect.
const (
	featureRoot              = 0x0000
	featureFeatureSet        = 0x0001
	featureOnboardProfiles   = 0x8100
	featureAdjustableDPI     = 0x2201
	featureReprogControlsV4  = 0x1b04
	featureColorLEDEffects   = 0x8070
)

// longReport builds a 20-byte HID++ 2.0 long report:
// [reportID, deviceIndex, featureIndex, functionID|softwareID, params...].
func longReport(deviceIndex, featureIndex, function byte, params ...byte) []byte {
	r := make([]byte, longReportSize)
	r[0] = reportIDLong
	r[1] = deviceIndex
	r[2] = featureIndex
	r[3] = (function << 4) | softwareID
	copy(r[4:], params)
	return r
}

// matchReply returns a Matcher that accepts any long report addressed to
// the same feature index and software ID as the outgoing request (a
// reply), or classifies an 0x8F error report for the same feature as
// ErrorResponse. Anything else (a different feature, an HID++ 1.0 short
// report, or a notification) is NotMine and goes to the side channel.
func matchReply(deviceIndex, featureIndex byte) hidraw.Matcher {
	return func(report []byte) hidraw.MatchResult {
		if len(report) < 4 || report[0] != reportIDLong {
			return hidraw.NotMine
		}
		if report[1] != deviceIndex {
			return hidraw.NotMine
		}
		if report[2] == errorResponseSubID && len(report) > 4 && report[4] == featureIndex {
			return hidraw.ErrorResponse
		}
		if report[2] != featureIndex {
			return hidraw.NotMine
		}
		if report[3]&0x0F != softwareID {
			return hidraw.NotMine
		}
		return hidraw.Match
	}
}

func call(ctx context.Context, io hidraw.IO, deviceIndex, featureIndex, function byte, params ...byte) ([]byte, error) {
	req := longReport(deviceIndex, featureIndex, function, params...)
	resp, err := io.Request(ctx, req, matchReply(deviceIndex, featureIndex), 0, 0)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getFeatureIndex resolves featureID to its per-device feature index via
// the Root feature (always index 0). Returns Unsupported if the device
// doesn't implement the feature at all.
func getFeatureIndex(ctx context.Context, io hidraw.IO, deviceIndex byte, featureID uint16) (byte, error) {
	resp, err := call(ctx, io, deviceIndex, featureRoot, 0x00, byte(featureID>>8), byte(featureID))
	if err != nil {
		return 0, err
	}
	idx := resp[4]
	if idx == 0 {
		return 0, raterr.New("getFeatureIndex", raterr.Unsupported, fmt.Errorf("feature 0x%04X not implemented", featureID))
	}
	return idx, nil
}
