//go:build !(linux && cgo)

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callcore/pkg/errors"
)

// DeviceSource is not wired to hardware drivers on this platform.
type DeviceSource struct {
	log *zap.Logger
}

// NewDeviceSource returns a DeviceSource that reports DeviceUnavailable.
func NewDeviceSource(log *zap.Logger) (*DeviceSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceSource{log: log}, nil
}

// API returns nil; peer connections fall back to the default WebRTC API.
func (s *DeviceSource) API() *webrtc.API { return nil }

// Open always fails on this platform.
func (s *DeviceSource) Open(_ context.Context, _ bool) ([]webrtc.TrackLocal, func(), error) {
	s.log.Warn("media capture unsupported on this platform")
	return nil, nil, errors.ErrDeviceUnavailable
}
