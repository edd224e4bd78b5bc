// Package exporter implements the cross-selector pacing state machine that
// sits between a source reachable through an ElementMapper and a concrete
// network protocol connection (RTMP PlayStream, HTTP-FLV, RTSP), grounded
// on original_source/whisperstreamlib/base/exporter.h (SPEC_FULL.md §4.6).
package exporter

import (
	"sync"

	"github.com/relaycore/mediacore/internal/graph"
	"github.com/relaycore/mediacore/internal/pipeline"
	"github.com/relaycore/mediacore/internal/selector"
	"github.com/relaycore/mediacore/internal/tag"
)

// State is the Exporter's lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateLookingUp
	StateAuthorizing
	StatePlaying
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateLookingUp:
		return "LOOKING_UP"
	case StateAuthorizing:
		return "AUTHORIZING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sink is implemented by the concrete protocol connection (RTMP
// PlayStream, HTTP-FLV writer, RTSP session) that an Exporter paces tags
// into. All methods are called from the network selector's goroutine.
type Sink interface {
	// CanSendTag reports whether there's outbuf space to send now.
	CanSendTag() bool
	// SetNotifyReady arranges for ProcessLocalizedTags to be called again
	// once outbuf space frees up.
	SetNotifyReady()
	// SendTag delivers one tag at the given stream time.
	SendTag(t *tag.Tag, streamTimeMs int64)

	OnStreamNotFound()
	OnAuthorizationFailed()
	OnReauthorizationFailed()
	OnTooManyClients()
	OnPlay()
	OnTerminate(reason string)

	IsClosed() bool
}

// Stats mirrors exporter.h's GetExportStats(): per-kind frame sent/dropped
// counts plus the stream-time span currently queued (SPEC_FULL.md §4.6
// supplement). Byte counters are not kept.
type Stats struct {
	VideoFramesSent    int64
	AudioFramesSent    int64
	VideoFramesDropped int64
	AudioFramesDropped int64
	ScheduledMs        int64
}

type scheduledTag struct {
	t            *tag.Tag
	streamTimeMs int64
}

// Exporter paces tags from a media-selector-resident source to a
// net-selector-resident sink, applying flow control (SPEC_FULL.md §4.6).
type Exporter struct {
	mediaSelector *selector.Selector
	netSelector   *selector.Selector
	mapper        *graph.ElementMapper
	sink          Sink

	normalizer *pipeline.Normalizer

	mu    sync.Mutex
	state State

	request       *graph.Request
	requestPath   string
	exportPath    string
	registeredExp bool

	flowControlVideoMs int64
	flowControlTotalMs int64
	droppingInterframes bool
	pausing             bool

	queue       []scheduledTag
	queueSpanMs int64

	reauthorizeAlarm selector.AlarmHandle
	haveReauthorize  bool
	terminateAlarm   selector.AlarmHandle
	haveTerminate    bool

	stats Stats
}

// New creates an Exporter. maxWriteAheadMs is handed to the normalizer
// (SPEC_FULL.md §4.5); processTag passes the normalizer no wall-clock time,
// so the write-ahead bound is not applied to this exporter's stream clock.
func New(mediaSelector, netSelector *selector.Selector, mapper *graph.ElementMapper, sink Sink, maxWriteAheadMs int64) *Exporter {
	return &Exporter{
		mediaSelector: mediaSelector,
		netSelector:   netSelector,
		mapper:        mapper,
		sink:          sink,
		normalizer:    pipeline.NewNormalizer(maxWriteAheadMs),
		state:         StateCreated,
	}
}

// State reports the current lifecycle state.
func (e *Exporter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of this exporter's counters.
func (e *Exporter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.ScheduledMs = e.queueSpanMs
	return st
}

// StartRequest begins resolving req against the element graph. Must run on
// the media selector.
func (e *Exporter) StartRequest(req *graph.Request) {
	e.mu.Lock()
	e.request = req
	e.requestPath = req.Path
	e.state = StateLookingUp
	e.mu.Unlock()

	e.lookup()
}

func (e *Exporter) lookup() {
	e.mu.Lock()
	req := e.request
	e.mu.Unlock()
	if req == nil {
		return
	}
	if req.ServingInfo.MediaName == "" {
		req.ServingInfo.MediaName = req.Path
	}

	if req.ServingInfo.AuthorizerName == "" {
		req.AuthReply.Allowed = true
		e.authorizeCompleted(nil)
		return
	}

	authorizer, ok := e.mapper.Authorizer(req.ServingInfo.AuthorizerName)
	if !ok {
		req.AuthReply.Allowed = true
		e.authorizeCompleted(nil)
		return
	}

	e.mu.Lock()
	e.state = StateAuthorizing
	e.mu.Unlock()

	authorizer.Authorize(req.AuthReq, func(reply graph.AuthReply) {
		req.AuthReply = reply
		e.authorizeCompleted(authorizer)
	})
}

func (e *Exporter) authorizeCompleted(authorizer graph.Authorizer) {
	if e.sink.IsClosed() {
		e.abandon("CLOSED")
		return
	}

	e.mu.Lock()
	req := e.request
	e.mu.Unlock()

	if !req.AuthReply.Allowed {
		e.sink.OnAuthorizationFailed()
		e.abandon("AUTHORIZATION FAILED")
		return
	}

	e.mu.Lock()
	e.exportPath = req.ServingInfo.MediaName
	e.flowControlVideoMs = req.ServingInfo.FlowControlVideoMs
	e.flowControlTotalMs = req.ServingInfo.FlowControlTotalMs
	e.mu.Unlock()

	if req.ServingInfo.MaxClients >= 0 {
		count := e.mapper.AddExportClient(e.exportPath)
		e.mu.Lock()
		e.registeredExp = true
		e.mu.Unlock()
		if count > req.ServingInfo.MaxClients {
			e.sink.OnTooManyClients()
			e.abandon("TOO MANY REQUESTS")
			return
		}
	}

	if !e.mapper.AddRequest(req.ServingInfo.MediaName, req, e.processTag) {
		e.sink.OnStreamNotFound()
		e.abandon("STREAM NOT FOUND")
		return
	}

	if authorizer != nil && req.AuthReply.ReauthorizeIntervalMs > 0 {
		e.armReauthorize(req.AuthReply.ReauthorizeIntervalMs, authorizer)
	}
	if req.AuthReply.TimeLimitMs > 0 {
		e.armTerminate(req.AuthReply.TimeLimitMs)
	}

	e.sink.OnPlay()

	e.mu.Lock()
	e.state = StatePlaying
	e.mu.Unlock()
}

func (e *Exporter) armReauthorize(delayMs int64, authorizer graph.Authorizer) {
	if e.mediaSelector == nil {
		return
	}
	e.mu.Lock()
	if e.haveReauthorize {
		e.mediaSelector.CancelAlarm(e.reauthorizeAlarm)
	}
	e.reauthorizeAlarm = e.mediaSelector.RegisterAlarm(func() { e.reauthorize(authorizer) }, delayMs)
	e.haveReauthorize = true
	e.mu.Unlock()
}

func (e *Exporter) armTerminate(delayMs int64) {
	if e.mediaSelector == nil {
		return
	}
	e.mu.Lock()
	if e.haveTerminate {
		e.mediaSelector.CancelAlarm(e.terminateAlarm)
	}
	e.terminateAlarm = e.mediaSelector.RegisterAlarm(func() { e.terminate("REAUTHORIZATION FAILED") }, delayMs)
	e.haveTerminate = true
	e.mu.Unlock()
}

func (e *Exporter) reauthorize(authorizer graph.Authorizer) {
	e.mu.Lock()
	req := e.request
	closed := e.state == StateClosed
	e.mu.Unlock()
	if closed || req == nil {
		return
	}

	authorizer.Authorize(req.AuthReq, func(reply graph.AuthReply) {
		e.mu.Lock()
		if e.state == StateClosed {
			e.mu.Unlock()
			return
		}
		req.AuthReply = reply
		e.mu.Unlock()

		if !reply.Allowed {
			e.sink.OnReauthorizationFailed()
			e.HandleEos("REAUTHORIZATION FAILED")
			return
		}
		if reply.ReauthorizeIntervalMs > 0 {
			e.armReauthorize(reply.ReauthorizeIntervalMs, authorizer)
		}
		if reply.TimeLimitMs > 0 {
			e.armTerminate(reply.TimeLimitMs)
		} else if e.haveTerminate {
			e.mediaSelector.CancelAlarm(e.terminateAlarm)
		}
	})
}

func (e *Exporter) terminate(reason string) {
	e.sink.OnTerminate(reason)
}

func (e *Exporter) abandon(reason string) {
	e.mu.Lock()
	e.state = StateClosed
	e.request = nil
	e.mu.Unlock()
}

// HandleEos closes the exporter for reason and removes its upstream
// request, if any (SPEC_FULL.md §4.6).
func (e *Exporter) HandleEos(reason string) {
	e.mu.Lock()
	if e.state != StateClosed {
		e.state = StateClosed
	}
	req := e.request
	mediaName := e.exportPath
	e.mu.Unlock()

	if req != nil {
		e.mapper.RemoveRequest(mediaName, req)
		e.mu.Lock()
		e.request = nil
		e.mu.Unlock()
	}
}

// RemoveRequest unregisters from the upstream element, if any. After this
// returns no further callback is invoked for this exporter's request
// (SPEC_FULL.md §8 invariant 7).
func (e *Exporter) RemoveRequest() {
	e.mu.Lock()
	if e.state != StateClosed {
		e.state = StateClosed
	}
	req := e.request
	mediaName := e.exportPath
	registered := e.registeredExp
	exportPath := e.exportPath
	e.request = nil
	e.mu.Unlock()

	if req != nil {
		e.mapper.RemoveRequest(mediaName, req)
	}
	if registered {
		e.mapper.RemoveExportClient(exportPath)
	}
}

// processTag is the callback installed with the upstream ElementMapper; it
// runs on the media selector.
func (e *Exporter) processTag(t *tag.Tag) {
	normalized := e.normalizer.Process(t, t.StreamTimeMs, 0)

	switch normalized.Type {
	case tag.TypeSourceStarted:
		e.mu.Lock()
		e.droppingInterframes = true
		e.mu.Unlock()
	case tag.TypeSeekPerformed:
		e.mu.Lock()
		e.droppingInterframes = true
		e.mu.Unlock()
	}

	e.handleTag(normalized)

	if normalized.Type == tag.TypeEOS {
		e.mu.Lock()
		e.request = nil
		e.mu.Unlock()
	}
}

// handleTag applies flow control, possibly dropping the tag, then hands
// survivors to the scheduler queue (SPEC_FULL.md §4.6, scenario S6).
func (e *Exporter) handleTag(t *tag.Tag) {
	e.mu.Lock()
	scheduledMs := e.queueSpanMs
	totalMs := e.flowControlTotalMs
	videoMs := e.flowControlVideoMs
	dropping := e.droppingInterframes
	e.mu.Unlock()

	if totalMs == 0 && scheduledMs > 500 {
		e.pause()
	}

	dropTag := (dropping && t.IsVideo() && t.IsDroppable() && !t.CanResync()) ||
		((t.IsVideo() || t.IsAudio()) && totalMs > 0 && t.IsDroppable() && scheduledMs > totalMs) ||
		(t.IsVideo() && videoMs > 0 && t.IsDroppable() && scheduledMs > videoMs)

	e.mu.Lock()
	e.droppingInterframes = e.droppingInterframes || dropTag
	e.mu.Unlock()

	if dropTag && t.IsDroppable() {
		e.mu.Lock()
		if t.IsVideo() {
			e.stats.VideoFramesDropped++
		}
		if t.IsAudio() {
			e.stats.AudioFramesDropped++
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	if t.IsVideo() {
		e.stats.VideoFramesSent++
	}
	if t.IsAudio() {
		e.stats.AudioFramesSent++
	}
	if e.droppingInterframes && t.IsVideo() && t.CanResync() {
		e.droppingInterframes = false
	}
	e.mu.Unlock()

	e.scheduleTag(t)
}

// scheduleTag enqueues t and pokes the network selector on the
// empty-to-non-empty transition (SPEC_FULL.md §4.6).
func (e *Exporter) scheduleTag(t *tag.Tag) {
	st := scheduledTag{t: t, streamTimeMs: t.StreamTimeMs}

	e.mu.Lock()
	wasEmpty := len(e.queue) == 0
	e.queue = append(e.queue, st)
	e.queueSpanMs = e.queue[len(e.queue)-1].streamTimeMs - e.queue[0].streamTimeMs
	e.mu.Unlock()

	if wasEmpty && e.netSelector != nil {
		e.netSelector.RunInSelectLoop(func() { e.ProcessLocalizedTags() })
	} else if e.netSelector == nil {
		e.ProcessLocalizedTags()
	}
}

// ProcessLocalizedTags drains the scheduler queue into the sink while
// CanSendTag() is true; runs on the network selector.
func (e *Exporter) ProcessLocalizedTags() {
	for {
		if !e.sink.CanSendTag() {
			e.sink.SetNotifyReady()
			break
		}

		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			break
		}
		st := e.queue[0]
		e.queue = e.queue[1:]
		if st.t.Type == tag.TypeFlush {
			e.queue = nil
		}
		if len(e.queue) > 0 {
			e.queueSpanMs = e.queue[len(e.queue)-1].streamTimeMs - e.queue[0].streamTimeMs
		} else {
			e.queueSpanMs = 0
		}
		e.mu.Unlock()

		e.sink.SendTag(st.t, st.streamTimeMs)
	}

	e.mu.Lock()
	shouldResume := e.flowControlTotalMs == 0 && e.queueSpanMs == 0 && e.pausing
	e.mu.Unlock()

	if shouldResume {
		e.mu.Lock()
		e.pausing = false
		e.mu.Unlock()
		if e.mediaSelector != nil {
			e.mediaSelector.RunInSelectLoop(func() { e.resume() })
		} else {
			e.resume()
		}
	}
}

func (e *Exporter) pause() {
	e.mu.Lock()
	req := e.request
	already := e.pausing
	e.mu.Unlock()
	if already || req == nil || req.Controller == nil {
		return
	}
	e.mu.Lock()
	e.pausing = true
	e.mu.Unlock()
	req.Controller.Pause(true)
}

func (e *Exporter) resume() {
	e.mu.Lock()
	req := e.request
	e.mu.Unlock()
	if req == nil || req.Controller == nil {
		return
	}
	req.Controller.Pause(false)
}

// SetPaused forwards a client-initiated pause/resume (RTMP's "pause"
// invocation) to the current request's Controller, a no-op if the
// request carries none.
func (e *Exporter) SetPaused(paused bool) error {
	e.mu.Lock()
	req := e.request
	e.mu.Unlock()
	if req == nil || req.Controller == nil {
		return nil
	}
	return req.Controller.Pause(paused)
}
