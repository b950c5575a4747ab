package call

import (
	"context"

	"github.com/dkeye/webcall/internal/core"
	"github.com/dkeye/webcall/internal/domain"
)

func (c *Controller) getLocalMediaStream(ctx context.Context, mic, camera bool, facing domain.VideoCamera) ([]core.LocalTrack, error) {
	if !mic && !camera {
		return nil, nil
	}
	return c.devices.GetUserMedia(ctx, core.Constraints{Mic: mic, Camera: camera, Facing: facing})
}

func hasKind(tracks []core.LocalTrack, kind domain.MediaKind) bool {
	for _, t := range tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func mediaTypeOf(src domain.MediaSource) domain.CallMediaType {
	if src.Kind() == domain.KindVideo {
		return domain.CallVideo
	}
	return domain.CallAudio
}

func (c *Controller) media(ctx context.Context, cmd core.MediaCommand) (core.Response, error) {
	sess := c.Session()
	if sess == nil {
		c.mu.Lock()
		c.inactive.Set(cmd.Source, cmd.Enable)
		c.mu.Unlock()
		c.recreateLocalStreamWhileNotConnected(ctx)
		return core.OkResponse{}, nil
	}

	switch {
	case !sess.cameraTrackWasSetBefore && cmd.Source == domain.SourceCamera && cmd.Enable:
		c.startSendingCamera(ctx, sess, sess.localCamera)
	case cmd.Source == domain.SourceMic && len(sess.localStream.AudioTracks()) > 0,
		cmd.Source == domain.SourceCamera && len(sess.localStream.VideoTracks()) > 0:
		if !c.enableMedia(sess, cmd.Source, cmd.Enable) {
			return nil, ErrCannotEnableMedia
		}
	case cmd.Source.IsScreen():
		if cmd.Enable != sess.localMediaSources.ScreenVideo {
			c.toggleScreenShare(ctx, sess)
		}
	default:
		if !c.replaceMedia(ctx, sess, cmd.Source, cmd.Enable, sess.localCamera) {
			return nil, ErrCannotReplaceMedia
		}
	}
	return core.OkResponse{}, nil
}

func (c *Controller) camera(ctx context.Context, cmd core.CameraCommand) (core.Response, error) {
	sess := c.Session()
	if sess == nil {
		c.mu.Lock()
		if c.pending == nil {
			c.pending = &PendingCallConfig{}
		}
		c.pending.localCamera = cmd.Camera
		c.mu.Unlock()
		c.recreateLocalStreamWhileNotConnected(ctx)
		return core.OkResponse{}, nil
	}
	// A denied camera is reported by the permissions event replaceMedia emits.
	c.replaceMedia(ctx, sess, domain.SourceCamera, true, cmd.Camera)
	return core.OkResponse{}, nil
}

// enableMedia flips an existing mic or camera track and puts it on (or takes
// it off) its slot.
func (c *Controller) enableMedia(sess *Session, src domain.MediaSource, enable bool) bool {
	tracks := sess.localStream.AudioTracks()
	if src == domain.SourceCamera {
		tracks = sess.localStream.VideoTracks()
	}
	tc := sess.transceiverFor(src)
	changed := false
	for _, t := range tracks {
		if tc == nil {
			break
		}
		t.SetEnabled(enable)
		var next core.LocalTrack
		if enable {
			next = t
		}
		if err := tc.ReplaceTrack(next); err != nil {
			sess.log.Warn().Err(err).Str("source", string(src)).Msg("replace track")
			continue
		}
		sess.localMediaSources.Set(src, enable)
		changed = true
	}
	if !changed {
		sess.log.Warn().Str("source", string(src)).Msg("enable media error")
		c.emit(core.PermissionsResponse{Media: mediaTypeOf(src)})
	}
	return changed
}

// replaceMedia reopens mic and camera with the requested state and swaps
// both slots. The new devices are opened before the old tracks are stopped,
// so a failed open leaves the current tracks sending; both stay open for the
// length of the swap.
func (c *Controller) replaceMedia(ctx context.Context, sess *Session, src domain.MediaSource, enable bool, camera domain.VideoCamera) bool {
	mic := sess.localMediaSources.Mic
	cam := sess.localMediaSources.Camera
	if src == domain.SourceMic {
		mic = enable
	}
	if src == domain.SourceCamera {
		cam = enable
	}
	tracks, err := c.getLocalMediaStream(ctx, mic, cam, camera)
	if err != nil {
		sess.log.Warn().Err(err).Msg("replace media error")
		c.emit(core.PermissionsResponse{Media: mediaTypeOf(src)})
		return false
	}
	if !c.current(sess) {
		stopAll(tracks)
		return false
	}

	stopAll(sess.localStream.Clear())
	for _, t := range tracks {
		sess.localStream.Add(t)
	}
	sess.localCamera = camera

	if err := sess.replaceOnSlot(domain.SourceMic, first(sess.localStream.AudioTracks())); err != nil {
		sess.log.Warn().Err(err).Msg("replace mic track")
	}
	if err := sess.replaceOnSlot(domain.SourceCamera, first(sess.localStream.VideoTracks())); err != nil {
		sess.log.Warn().Err(err).Msg("replace camera track")
	}
	sess.localMediaSources.Mic = len(sess.localStream.AudioTracks()) > 0
	sess.localMediaSources.Camera = len(sess.localStream.VideoTracks()) > 0
	return true
}

// startSendingCamera opens the camera for the first time in a call that
// started without video.
func (c *Controller) startSendingCamera(ctx context.Context, sess *Session, camera domain.VideoCamera) {
	sess.log.Info().Msg("starting sending video")
	tracks, err := c.getLocalMediaStream(ctx, false, true, camera)
	if err != nil {
		sess.log.Warn().Err(err).Msg("start sending camera error")
		c.emit(core.PermissionsResponse{Media: domain.CallVideo})
		return
	}
	if !c.current(sess) {
		stopAll(tracks)
		return
	}
	for _, t := range tracks {
		if t.Kind() != domain.KindVideo {
			t.Stop()
			continue
		}
		sess.localStream.Add(t)
		if err := sess.replaceOnSlot(domain.SourceCamera, t); err != nil {
			sess.log.Warn().Err(err).Msg("replace camera track")
		}
	}
	sess.localCamera = camera
	sess.localMediaSources.Camera = true
	sess.cameraTrackWasSetBefore = true
}

// toggleScreenShare starts or stops sending the screen on the screen slots.
// Screen audio is captured but not sent.
func (c *Controller) toggleScreenShare(ctx context.Context, sess *Session) {
	if !sess.localMediaSources.ScreenVideo {
		tracks, err := c.devices.GetDisplayMedia(ctx)
		if err != nil {
			sess.log.Warn().Err(err).Msg("screen capture not available")
			return
		}
		if !c.current(sess) {
			stopAll(tracks)
			return
		}
		for _, t := range tracks {
			sess.localScreenStream.Add(t)
		}
		if v := first(sess.localScreenStream.VideoTracks()); v != nil {
			if err := sess.replaceOnSlot(domain.SourceScreenVideo, v); err != nil {
				sess.log.Warn().Err(err).Msg("replace screen video track")
			}
		}
	} else {
		for _, src := range []domain.MediaSource{domain.SourceScreenAudio, domain.SourceScreenVideo} {
			if err := sess.replaceOnSlot(src, nil); err != nil {
				sess.log.Warn().Err(err).Str("source", string(src)).Msg("clear screen track")
			}
		}
		stopAll(sess.localScreenStream.Clear())
	}
	sess.localMediaSources.ScreenVideo = !sess.localMediaSources.ScreenVideo
}

// recreateLocalStreamWhileNotConnected refreshes the preview after the
// intended media or camera changed before the call exists.
func (c *Controller) recreateLocalStreamWhileNotConnected(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	inactive := c.inactive
	c.mu.Unlock()
	if pending == nil {
		return
	}
	pending.stop()
	if !inactive.Mic && !inactive.Camera {
		return
	}
	facing := pending.localCamera
	if facing == "" {
		facing = domain.CameraUser
	}
	tracks, err := c.getLocalMediaStream(ctx, inactive.Mic, inactive.Camera, facing)
	if err != nil {
		c.log.Warn().Err(err).Msg("error while enabling camera in not connected call")
		return
	}
	c.mu.Lock()
	if c.pending != pending {
		c.mu.Unlock()
		stopAll(tracks)
		return
	}
	pending.localStream = tracks
	c.mu.Unlock()
}

func stopAll(tracks []core.LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
