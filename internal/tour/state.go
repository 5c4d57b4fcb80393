package tour

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Segment identifies what the tour is currently showing. Sequence segments
// carry the owning hotspot id, e.g. "diveIn_<hotspotId>".
type Segment string

const (
	SegmentAerial     Segment = "aerial"
	SegmentTransition Segment = "transition"
)

func SegmentDiveIn(hotspotID string) Segment     { return Segment("diveIn_" + hotspotID) }
func SegmentFloorLevel(hotspotID string) Segment { return Segment("floorLevel_" + hotspotID) }
func SegmentZoomOut(hotspotID string) Segment    { return Segment("zoomOut_" + hotspotID) }

// Split breaks a sequence segment into its kind and hotspot id. For aerial
// and transition the hotspot id is empty.
func (s Segment) Split() (kind, hotspotID string) {
	if i := strings.IndexByte(string(s), '_'); i >= 0 {
		return string(s[:i]), string(s[i+1:])
	}
	return string(s), ""
}

// Slot maps a segment to the playback slot that renders it.
func (s Segment) Slot() Slot {
	kind, _ := s.Split()
	return Slot(kind)
}

// TransitionState makes the location-swap window explicit instead of a bare
// boolean, so a watchdog expiry is distinguishable from a clean finish.
type TransitionState int

const (
	TransitionIdle TransitionState = iota
	TransitionInProgress
	TransitionTimedOut
)

func (t TransitionState) String() string {
	switch t {
	case TransitionIdle:
		return "idle"
	case TransitionInProgress:
		return "inProgress"
	case TransitionTimedOut:
		return "timedOut"
	default:
		return "unknown"
	}
}

// ErrIncompletePlaylist is reported, not fatal: clicking a PRIMARY hotspot
// whose playlist is missing videos leaves the tour exactly where it was.
var ErrIncompletePlaylist = errors.New("hotspot playlist is incomplete")

// ErrTransitionInProgress marks a changeLocation dropped because another
// location swap is still running.
var ErrTransitionInProgress = errors.New("location change already in progress")

// Snapshot is the externally visible machine state.
type Snapshot struct {
	LocationID      string          `json:"locationId"`
	LocationName    string          `json:"locationName"`
	Segment         Segment         `json:"segment"`
	VideoURL        string          `json:"videoUrl"`
	ActiveHotspotID string          `json:"activeHotspotId,omitempty"`
	Transition      TransitionState `json:"-"`
	InTransition    bool            `json:"inTransition"`
	Hotspots        []Hotspot       `json:"hotspots"`
}

// Machine is the tour state machine: one current location, one current
// segment, at most one active hotspot. All mutations run under the lock and
// every committed change is emitted through onChange.
type Machine struct {
	assets *AssetCache

	transitionTimeout time.Duration

	onChange func(Snapshot)
	onError  func(error)

	mu              sync.Mutex
	location        *Bundle
	segment         Segment
	videoURL        string
	activeHotspot   *Hotspot
	playlist        *Playlist
	transitionState TransitionState
	transitionTimer *time.Timer
	transitionSeq   int
}

type MachineOption func(*Machine)

func WithTransitionTimeout(d time.Duration) MachineOption {
	return func(m *Machine) { m.transitionTimeout = d }
}

func WithErrorReporter(fn func(error)) MachineOption {
	return func(m *Machine) { m.onError = fn }
}

const defaultTransitionTimeout = 8 * time.Second

func NewMachine(assets *AssetCache, onChange func(Snapshot), opts ...MachineOption) *Machine {
	m := &Machine{
		assets:            assets,
		transitionTimeout: defaultTransitionTimeout,
		onChange:          onChange,
		segment:           SegmentAerial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Segment:      m.segment,
		VideoURL:     m.videoURL,
		Transition:   m.transitionState,
		InTransition: m.transitionState == TransitionInProgress,
	}
	if m.location != nil {
		s.LocationID = m.location.LocationID
		s.LocationName = m.location.Name
		s.Hotspots = m.location.Hotspots
	}
	if m.activeHotspot != nil {
		s.ActiveHotspotID = m.activeHotspot.ID
	}
	return s
}

func (m *Machine) emitLocked() {
	if m.onChange != nil {
		m.onChange(m.snapshotLocked())
	}
}

func (m *Machine) report(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// ChangeLocation swaps the tour to another location. While a previous swap
// is still in progress the call is dropped. When the destination has a
// transition video it plays first, guarded by a watchdog that forces the
// swap through if the ended event never arrives.
func (m *Machine) ChangeLocation(ctx context.Context, locationID string) error {
	m.mu.Lock()
	if m.transitionState == TransitionInProgress {
		m.mu.Unlock()
		return ErrTransitionInProgress
	}
	sameLocation := m.location != nil && m.location.LocationID == locationID
	m.mu.Unlock()
	if sameLocation {
		return nil
	}

	bundle, err := m.assets.Bundle(ctx, locationID)
	if err != nil {
		m.report(err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionState == TransitionInProgress {
		return ErrTransitionInProgress
	}

	firstLoad := m.location == nil
	m.location = bundle
	m.activeHotspot = nil
	m.playlist = nil

	if firstLoad || bundle.TransitionURL == "" {
		m.segment = SegmentAerial
		m.videoURL = bundle.AerialURL
		m.transitionState = TransitionIdle
		m.emitLocked()
		return nil
	}

	m.segment = SegmentTransition
	m.videoURL = bundle.TransitionURL
	m.transitionState = TransitionInProgress
	m.transitionSeq++
	seq := m.transitionSeq
	m.transitionTimer = time.AfterFunc(m.transitionTimeout, func() {
		m.transitionExpired(seq)
	})
	m.emitLocked()
	return nil
}

// transitionExpired is the watchdog path: the transition video never
// reported ended, so force the aerial through.
func (m *Machine) transitionExpired(seq int) {
	m.mu.Lock()
	if seq != m.transitionSeq || m.transitionState != TransitionInProgress {
		m.mu.Unlock()
		return
	}
	m.transitionState = TransitionTimedOut
	locationID := ""
	if m.location != nil {
		locationID = m.location.LocationID
	}
	m.finishTransitionLocked()
	m.mu.Unlock()
	m.report(fmt.Errorf("transition to %s timed out after %s", locationID, m.transitionTimeout))
}

func (m *Machine) finishTransitionLocked() {
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}
	m.segment = SegmentAerial
	if m.location != nil {
		m.videoURL = m.location.AerialURL
	}
	m.activeHotspot = nil
	m.emitLocked()
}

// HotspotClick handles a visitor clicking a hotspot polygon. SECONDARY
// hotspots only select (info panel); PRIMARY hotspots start the three-video
// sequence, but an incomplete playlist is reported and leaves state alone.
func (m *Machine) HotspotClick(ctx context.Context, hotspotID string) error {
	m.mu.Lock()
	if m.location == nil {
		m.mu.Unlock()
		return errors.New("no location loaded")
	}
	if m.transitionState == TransitionInProgress {
		m.mu.Unlock()
		return ErrTransitionInProgress
	}
	var target *Hotspot
	for i := range m.location.Hotspots {
		if m.location.Hotspots[i].ID == hotspotID {
			target = &m.location.Hotspots[i]
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return fmt.Errorf("hotspot %s not in current location", hotspotID)
	}

	if target.Type != "PRIMARY" {
		m.mu.Lock()
		m.activeHotspot = target
		m.playlist = nil
		m.emitLocked()
		m.mu.Unlock()
		return nil
	}

	playlist, err := m.assets.Playlist(ctx, hotspotID)
	if err != nil {
		m.report(err)
		return err
	}
	if !playlist.Complete() {
		err := fmt.Errorf("hotspot %s (%s): %w", target.Name, hotspotID, ErrIncompletePlaylist)
		m.report(err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeHotspot = target
	m.playlist = playlist
	m.segment = SegmentDiveIn(hotspotID)
	m.videoURL = playlist.DiveInURL
	m.emitLocked()
	return nil
}

// VideoEnded advances the machine when a segment's video finishes. The
// ended segment must match the current one; stale or duplicate ended events
// from an already-swapped video are dropped, which also guards the
// transition race where an ended arrives after the watchdog fired.
func (m *Machine) VideoEnded(ended Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ended != m.segment {
		return
	}

	switch {
	case ended == SegmentAerial:
		// Aerial loops; an ended event here is noise.
		return

	case ended == SegmentTransition:
		if m.transitionState != TransitionInProgress {
			return
		}
		m.transitionState = TransitionIdle
		m.finishTransitionLocked()
		return
	}

	kind, hotspotID := ended.Split()
	if m.activeHotspot == nil || m.activeHotspot.ID != hotspotID || m.playlist == nil {
		return
	}

	switch kind {
	case "diveIn":
		m.segment = SegmentFloorLevel(hotspotID)
		m.videoURL = m.playlist.FloorLevelURL
	case "floorLevel":
		m.segment = SegmentZoomOut(hotspotID)
		m.videoURL = m.playlist.ZoomOutURL
	case "zoomOut":
		m.segment = SegmentAerial
		m.videoURL = m.location.AerialURL
		m.activeHotspot = nil
		m.playlist = nil
	default:
		return
	}
	m.emitLocked()
}

// ClearSelection drops the active hotspot without changing the segment,
// used when the visitor dismisses a SECONDARY info panel.
func (m *Machine) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeHotspot == nil {
		return
	}
	kind, _ := m.segment.Split()
	if kind != string(SegmentAerial) {
		// Mid-sequence the selection is structural; only aerial selections
		// are dismissable.
		return
	}
	m.activeHotspot = nil
	m.playlist = nil
	m.emitLocked()
}

// Close stops the watchdog timer.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}
}
