// Package media owns local capture: acquiring and releasing device tracks
// and flipping per-kind enabled flags. The stream is shared read-only by
// every peer session of a call; only this package mutates it.
package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callcore/pkg/errors"
)

// Kind identifies a track kind
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source opens hardware capture devices. The real implementation sits on
// pion/mediadevices; tests inject a synthetic one.
type Source interface {
	// Open acquires an audio track and, when withVideo is set, a video track.
	// The returned release func stops the underlying devices.
	Open(ctx context.Context, withVideo bool) (tracks []webrtc.TrackLocal, release func(), err error)
}

// Track wraps a local RTP track with an enabled flag. Toggling the flag never
// stops the underlying device, so re-enabling is instantaneous and needs no
// renegotiation.
type Track struct {
	kind Kind
	rtp  webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
}

// Kind returns the track kind
func (t *Track) Kind() Kind { return t.kind }

// RTP returns the underlying local track for attachment to peer sessions
func (t *Track) RTP() webrtc.TrackLocal { return t.rtp }

// Enabled reports whether the track is currently enabled
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled flips the enabled flag and returns the new state
func (t *Track) SetEnabled(enabled bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return t.enabled
}

// Stream is the local capture result for one call. Exactly one Stream is
// active per in-progress call on a given client.
type Stream struct {
	mu       sync.Mutex
	tracks   []*Track
	release  func()
	released bool
}

// Tracks returns all tracks of the stream
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the stream's track of the given kind, or nil
func (s *Stream) Track(kind Kind) *Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Close releases the underlying devices. Safe to call more than once; the
// hardware is released exactly once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.release != nil {
		s.release()
	}
}

// Capture acquires and owns the local media stream
type Capture struct {
	source Source
	log    *zap.Logger

	mu      sync.Mutex
	current *Stream
}

// NewCapture creates a Capture backed by source
func NewCapture(source Source, log *zap.Logger) *Capture {
	if log == nil {
		log = zap.NewNop()
	}
	return &Capture{source: source, log: log}
}

// Acquire opens capture devices and returns the local stream. Acquiring is
// idempotent: a previously held stream is released first, so at most one
// stream is live at a time.
func (c *Capture) Acquire(ctx context.Context, withVideo bool) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Close()
		c.current = nil
	}

	tracks, release, err := c.source.Open(ctx, withVideo)
	if err != nil {
		return nil, err
	}

	stream := &Stream{release: release}
	for _, rtp := range tracks {
		kind := KindAudio
		if rtp.Kind() == webrtc.RTPCodecTypeVideo {
			kind = KindVideo
		}
		stream.tracks = append(stream.tracks, &Track{kind: kind, rtp: rtp, enabled: true})
	}

	c.current = stream
	c.log.Info("local media acquired",
		zap.Bool("video", withVideo),
		zap.Int("tracks", len(stream.tracks)))
	return stream, nil
}

// Stream returns the currently held stream, or nil
func (c *Capture) Stream() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Toggle flips the enabled flag of the current stream's track of the given
// kind and returns the new state. The other kind's flag is untouched.
func (c *Capture) Toggle(kind Kind) (bool, error) {
	c.mu.Lock()
	stream := c.current
	c.mu.Unlock()

	if stream == nil {
		return false, errors.DeviceError(nil)
	}
	track := stream.Track(kind)
	if track == nil {
		return false, errors.DeviceError(nil)
	}
	enabled := track.SetEnabled(!track.Enabled())
	c.log.Debug("track toggled", zap.String("kind", string(kind)), zap.Bool("enabled", enabled))
	return enabled, nil
}

// SetEnabled forces the enabled flag of the given kind, reporting the state.
// Used by hold, which mutes outbound audio without tearing sessions down.
func (c *Capture) SetEnabled(kind Kind, enabled bool) (bool, error) {
	c.mu.Lock()
	stream := c.current
	c.mu.Unlock()

	if stream == nil {
		return false, errors.DeviceError(nil)
	}
	track := stream.Track(kind)
	if track == nil {
		return false, errors.DeviceError(nil)
	}
	return track.SetEnabled(enabled), nil
}

// Release drops the current stream and releases the devices
func (c *Capture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Close()
		c.current = nil
		c.log.Info("local media released")
	}
}
