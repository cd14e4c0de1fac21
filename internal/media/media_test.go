package media

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/pkg/errors"
)

// fakeSource hands out static sample tracks and counts device releases.
type fakeSource struct {
	opens    int
	releases int
	fail     error
}

func (f *fakeSource) Open(_ context.Context, withVideo bool) ([]webrtc.TrackLocal, func(), error) {
	if f.fail != nil {
		return nil, nil, f.fail
	}
	f.opens++

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		return nil, nil, err
	}
	tracks := []webrtc.TrackLocal{audio}

	if withVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, video)
	}
	return tracks, func() { f.releases++ }, nil
}

func TestAcquireVideoCall(t *testing.T) {
	src := &fakeSource{}
	capture := NewCapture(src, nil)

	stream, err := capture.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, stream.Tracks(), 2)

	audio := stream.Track(KindAudio)
	video := stream.Track(KindVideo)
	require.NotNil(t, audio)
	require.NotNil(t, video)
	assert.True(t, audio.Enabled())
	assert.True(t, video.Enabled())
}

func TestAcquireIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	capture := NewCapture(src, nil)

	first, err := capture.Acquire(context.Background(), true)
	require.NoError(t, err)

	// Re-acquiring must release the previous stream before opening devices.
	second, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, src.opens)
	assert.Equal(t, 1, src.releases)
	assert.NotSame(t, first, second)
	assert.Same(t, second, capture.Stream())
}

func TestToggleLeavesOtherKindUnchanged(t *testing.T) {
	capture := NewCapture(&fakeSource{}, nil)
	stream, err := capture.Acquire(context.Background(), true)
	require.NoError(t, err)

	enabled, err := capture.Toggle(KindVideo)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, stream.Track(KindVideo).Enabled())
	assert.True(t, stream.Track(KindAudio).Enabled(), "audio must be untouched by video toggle")

	enabled, err = capture.Toggle(KindAudio)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.False(t, stream.Track(KindAudio).Enabled())
	assert.False(t, stream.Track(KindVideo).Enabled())

	// Re-enabling flips the flag only; no device reacquisition.
	enabled, err = capture.Toggle(KindVideo)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestToggleWithoutStream(t *testing.T) {
	capture := NewCapture(&fakeSource{}, nil)
	_, err := capture.Toggle(KindAudio)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDevice, errors.GetAppError(err).Code)
}

func TestReleaseExactlyOnce(t *testing.T) {
	src := &fakeSource{}
	capture := NewCapture(src, nil)

	stream, err := capture.Acquire(context.Background(), true)
	require.NoError(t, err)

	capture.Release()
	capture.Release()
	stream.Close()

	assert.Equal(t, 1, src.releases, "devices released exactly once")
	assert.Nil(t, capture.Stream())
}

func TestAcquireSurfacesDeviceError(t *testing.T) {
	src := &fakeSource{fail: errors.ErrDeviceUnavailable}
	capture := NewCapture(src, nil)

	_, err := capture.Acquire(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeviceUnavailable)
	assert.Nil(t, capture.Stream())
}
