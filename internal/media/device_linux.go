//go:build linux && cgo

package media

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callcore/pkg/errors"
)

// DeviceSource captures camera and microphone via pion/mediadevices
// (V4L2 + malgo on Linux) with VP8+Opus encoding.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
	api      *webrtc.API
	log      *zap.Logger
}

// NewDeviceSource builds the codec selector and a matching WebRTC API.
// Peer connections carrying tracks from this source must be created through
// API(), so offers advertise the codecs the encoders actually produce.
func NewDeviceSource(log *zap.Logger) (*DeviceSource, error) {
	if log == nil {
		log = zap.NewNop()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, errors.DeviceError(err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, errors.DeviceError(err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, errors.DeviceError(err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return &DeviceSource{selector: selector, api: api, log: log}, nil
}

// API returns the WebRTC API configured for this source's codecs
func (s *DeviceSource) API() *webrtc.API { return s.api }

// Open acquires local devices. GetUserMedia fails as a unit if either track
// can't be opened, so attempts degrade: audio+video, then video-only, then
// audio-only. A missing or busy microphone must not prevent the camera from
// working and vice versa.
func (s *DeviceSource) Open(_ context.Context, withVideo bool) ([]webrtc.TrackLocal, func(), error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if withVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG V4L2 node that
				// produces malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			s.log.Warn("media capture attempt failed",
				zap.String("attempt", a.label),
				zap.Error(err))
			continue
		}

		tracks := stream.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, track := range tracks {
			locals = append(locals, track)
		}

		release := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		s.log.Info("local media captured",
			zap.String("attempt", a.label),
			zap.Int("tracks", len(tracks)))
		return locals, release, nil
	}

	return nil, nil, errors.DeviceError(lastErr)
}
