package tour

import (
	"errors"
	"sync"
)

// Play rejection classes. Aborted means a newer source swap interrupted the
// play call and is not an error; Blocked means the client's autoplay policy
// refused unmuted playback.
var (
	ErrPlayAborted = errors.New("play aborted by source change")
	ErrPlayBlocked = errors.New("play blocked by autoplay policy")
)

// Slot names the logical video surface a controller owns. Mute and loop
// policy follow the slot: the aerial loops muted, transitions play muted
// once, sequence slots play unmuted once.
type Slot string

const (
	SlotAerial     Slot = "aerial"
	SlotTransition Slot = "transition"
	SlotDiveIn     Slot = "diveIn"
	SlotFloorLevel Slot = "floorLevel"
	SlotZoomOut    Slot = "zoomOut"
)

func (s Slot) Muted() bool {
	return s == SlotAerial || s == SlotTransition
}

func (s Slot) Loop() bool {
	return s == SlotAerial
}

// Player is the remote or fake video element a controller drives.
type Player interface {
	// Load replaces the current source. The previous source must already be
	// paused and reset when this is called.
	Load(src string, muted, loop bool) error
	Pause() error
	// Reset clears the current source so the next Load starts clean.
	Reset() error
	Play(muted bool) error
}

// PlaybackController owns one slot's source lifecycle. Source swaps always
// pause and reset before loading, play rejections are classified rather than
// bubbled, and the playing callback fires exactly once per source.
type PlaybackController struct {
	slot   Slot
	player Player

	onPlaying func(src string)

	mu           sync.Mutex
	currentSrc   string
	playingFired bool
	mutedRetried bool
}

func NewPlaybackController(slot Slot, player Player, onPlaying func(src string)) *PlaybackController {
	return &PlaybackController{slot: slot, player: player, onPlaying: onPlaying}
}

func (c *PlaybackController) Slot() Slot { return c.slot }

func (c *PlaybackController) CurrentSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSrc
}

// SetSource swaps the slot to a new source. Setting the current source again
// is a no-op so repeated state emissions don't restart playback.
func (c *PlaybackController) SetSource(src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src == c.currentSrc {
		return nil
	}
	if c.currentSrc != "" {
		if err := c.player.Pause(); err != nil {
			return err
		}
		if err := c.player.Reset(); err != nil {
			return err
		}
	}
	if err := c.player.Load(src, c.slot.Muted(), c.slot.Loop()); err != nil {
		return err
	}
	c.currentSrc = src
	c.playingFired = false
	c.mutedRetried = false
	return nil
}

// Play starts the current source with the slot's mute policy. Aborted plays
// are swallowed; an autoplay-policy rejection gets exactly one muted retry.
func (c *PlaybackController) Play() error {
	c.mu.Lock()
	muted := c.slot.Muted()
	c.mu.Unlock()
	return c.resolvePlay(c.player.Play(muted))
}

// HandleRejection applies the same policy to a play outcome that arrives
// asynchronously, e.g. reported back by a remote client.
func (c *PlaybackController) HandleRejection(cause error) error {
	return c.resolvePlay(cause)
}

func (c *PlaybackController) resolvePlay(err error) error {
	if err == nil {
		c.NotifyPlaying()
		return nil
	}
	if errors.Is(err, ErrPlayAborted) {
		return nil
	}
	if errors.Is(err, ErrPlayBlocked) {
		c.mu.Lock()
		if c.mutedRetried {
			c.mu.Unlock()
			return err
		}
		c.mutedRetried = true
		c.mu.Unlock()
		return c.resolvePlay(c.player.Play(true))
	}
	return err
}

// NotifyPlaying fires the playing callback, at most once per source.
func (c *PlaybackController) NotifyPlaying() {
	c.mu.Lock()
	if c.playingFired || c.currentSrc == "" {
		c.mu.Unlock()
		return
	}
	c.playingFired = true
	src := c.currentSrc
	fn := c.onPlaying
	c.mu.Unlock()
	if fn != nil {
		fn(src)
	}
}

// Rect is a position inside the video container, in container pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// OverlayRect computes where contain-fit video content sits inside its
// container, so normalized hotspot overlays can be mapped to pixels. The
// math is pure: letterboxing appears as top/left offsets.
func OverlayRect(containerW, containerH, videoW, videoH float64) Rect {
	if containerW <= 0 || containerH <= 0 || videoW <= 0 || videoH <= 0 {
		return Rect{}
	}
	scale := containerW / videoW
	if s := containerH / videoH; s < scale {
		scale = s
	}
	w := videoW * scale
	h := videoH * scale
	return Rect{
		Left:   (containerW - w) / 2,
		Top:    (containerH - h) / 2,
		Width:  w,
		Height: h,
	}
}

// ProjectPoint maps a normalized hotspot point into container pixels using
// the contain-fit rect.
func ProjectPoint(r Rect, p Point) (x, y float64) {
	return r.Left + p.X*r.Width, r.Top + p.Y*r.Height
}
