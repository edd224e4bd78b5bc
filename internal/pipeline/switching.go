package pipeline

import (
	"sync"
	"time"

	"github.com/relaycore/mediacore/internal/selector"
	"github.com/relaycore/mediacore/internal/tag"
)

// kRegisterMinIntervalMs bounds how often SwitchingElement will re-
// subscribe to a new upstream, avoiding a tight reconnect loop against a
// flapping source (SPEC_FULL.md §4.5).
const kRegisterMinIntervalMs = 250

// Policy is consulted by SwitchingElement on every forwarded tag and on
// upstream end-of-stream, letting a concrete deployment implement a
// programmed playlist, ad insertion, or similar.
type Policy interface {
	// NotifyTag is offered every tag before it's forwarded; returning
	// false suppresses it.
	NotifyTag(t *tag.Tag) bool
	// NotifyEos is called when the current upstream ends (via EOS or the
	// inactivity watchdog). Returning true means "stay registered, await
	// a future SwitchCurrentMedia"; false closes all downstream clients.
	NotifyEos() bool
}

// AllowAllPolicy is a Policy that never suppresses tags and never retains
// a dead upstream.
type AllowAllPolicy struct{}

func (AllowAllPolicy) NotifyTag(*tag.Tag) bool { return true }
func (AllowAllPolicy) NotifyEos() bool         { return false }

// Resolver looks up an upstream by media name, matching
// graph.ElementMapper's narrow surface without pipeline depending on
// graph.
type Resolver interface {
	AddRequest(media string, key RequestKey, cb Callback) bool
	RemoveRequest(media string, key RequestKey)
}

// SwitchingElement holds a current upstream media name and forwards its
// tags to per-flavour distributors (SPEC_FULL.md §4.5).
type SwitchingElement struct {
	Name string

	mu                sync.Mutex
	resolver          Resolver
	sel               *selector.Selector
	distributors      map[int]*Distributor // flavour index -> distributor
	policy            Policy
	normalizer        *Normalizer
	tagTimeoutMs      int64
	mediaOnlyWhenUsed bool

	currentMedia   string
	registered     bool
	lastRegisterAt int64
	watchdog       selector.AlarmHandle
	hasWatchdog    bool
	subscriberKey  RequestKey // our own key when subscribed upstream
}

// NewSwitchingElement creates a SwitchingElement. flavours lists the
// flavour indices this element exposes distributors for.
func NewSwitchingElement(name string, resolver Resolver, sel *selector.Selector, policy Policy, flavours []int, tagTimeoutMs int64, mediaOnlyWhenUsed bool) *SwitchingElement {
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	dists := make(map[int]*Distributor, len(flavours))
	for _, f := range flavours {
		dists[f] = NewDistributor(uint32(1) << uint(f))
	}
	return &SwitchingElement{
		Name:              name,
		resolver:          resolver,
		sel:               sel,
		distributors:      dists,
		policy:            policy,
		normalizer:        NewNormalizer(0),
		tagTimeoutMs:      tagTimeoutMs,
		mediaOnlyWhenUsed: mediaOnlyWhenUsed,
		subscriberKey:     &struct{}{},
	}
}

// Distributor returns the per-flavour distributor for f, or nil if f was
// not declared at construction.
func (s *SwitchingElement) Distributor(f int) *Distributor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distributors[f]
}

// AddRequest subscribes key to the distributor of the given flavour and, if
// media_only_when_used is set and this is the first subscriber, re-
// establishes the upstream subscription.
func (s *SwitchingElement) AddRequest(key RequestKey, flavour int, cb Callback) bool {
	s.mu.Lock()
	d, ok := s.distributors[flavour]
	needsRegister := s.mediaOnlyWhenUsed && !s.registered && s.currentMedia != ""
	s.mu.Unlock()
	if !ok {
		return false
	}
	d.Subscribe(key, cb)

	if needsRegister {
		s.registerUpstream()
	}
	return true
}

// RemoveRequest unsubscribes key from flavour's distributor, dropping the
// upstream subscription if media_only_when_used and this was the last
// subscriber across every distributor.
func (s *SwitchingElement) RemoveRequest(key RequestKey, flavour int) {
	s.mu.Lock()
	d, ok := s.distributors[flavour]
	s.mu.Unlock()
	if !ok {
		return
	}
	d.Unsubscribe(key)

	if s.mediaOnlyWhenUsed {
		s.mu.Lock()
		anyLeft := false
		for _, dd := range s.distributors {
			if dd.Count() > 0 {
				anyLeft = true
				break
			}
		}
		s.mu.Unlock()
		if !anyLeft {
			s.unregisterUpstream()
		}
	}
}

// SwitchCurrentMedia is a no-op if already on target without force
// (SPEC_FULL.md §8 idempotence rule). Otherwise it sends SOURCE_ENDED
// downstream, unregisters from the current upstream, waits at least
// kRegisterMinIntervalMs since the last registration, then subscribes to
// target; the next tag received restarts the normalizer origin.
func (s *SwitchingElement) SwitchCurrentMedia(target string, force bool) {
	s.mu.Lock()
	if target == s.currentMedia && !force {
		s.mu.Unlock()
		return
	}
	prev := s.currentMedia
	s.currentMedia = target
	wasRegistered := s.registered
	s.mu.Unlock()

	if prev != "" {
		for _, d := range s.distributors {
			ended := tag.NewSourceEnded(prev)
			ended.IsFinal = true
			d.DistributeTag(ended)
		}
	}
	if wasRegistered {
		s.unregisterUpstream()
	}

	s.mu.Lock()
	s.normalizer.Process(tag.NewSourceStarted(target), 0, 0)
	shouldRegisterNow := target != "" && (!s.mediaOnlyWhenUsed || s.anySubscriberLocked())
	s.mu.Unlock()

	if !shouldRegisterNow {
		return
	}

	s.mu.Lock()
	elapsed := nowMs() - s.lastRegisterAt
	s.mu.Unlock()

	if elapsed >= kRegisterMinIntervalMs || s.sel == nil {
		s.registerUpstream()
		return
	}

	delay := kRegisterMinIntervalMs - elapsed
	s.sel.RegisterAlarm(func() { s.registerUpstream() }, delay)
}

func (s *SwitchingElement) anySubscriberLocked() bool {
	for _, d := range s.distributors {
		if d.Count() > 0 {
			return true
		}
	}
	return false
}

func (s *SwitchingElement) registerUpstream() {
	s.mu.Lock()
	if s.registered || s.currentMedia == "" {
		s.mu.Unlock()
		return
	}
	media := s.currentMedia
	s.mu.Unlock()

	ok := s.resolver.AddRequest(media, s.subscriberKey, s.onUpstreamTag)
	if !ok {
		return
	}

	s.mu.Lock()
	s.registered = true
	s.lastRegisterAt = nowMs()
	s.mu.Unlock()

	s.armWatchdog()
}

func (s *SwitchingElement) unregisterUpstream() {
	s.mu.Lock()
	if !s.registered {
		s.mu.Unlock()
		return
	}
	media := s.currentMedia
	s.registered = false
	s.mu.Unlock()

	s.resolver.RemoveRequest(media, s.subscriberKey)
	s.disarmWatchdog()
}

func (s *SwitchingElement) armWatchdog() {
	if s.sel == nil || s.tagTimeoutMs <= 0 {
		return
	}
	s.mu.Lock()
	if s.hasWatchdog {
		s.sel.CancelAlarm(s.watchdog)
	}
	s.watchdog = s.sel.RegisterAlarm(s.onWatchdogFired, s.tagTimeoutMs)
	s.hasWatchdog = true
	s.mu.Unlock()
}

func (s *SwitchingElement) disarmWatchdog() {
	s.mu.Lock()
	if s.hasWatchdog {
		s.sel.CancelAlarm(s.watchdog)
		s.hasWatchdog = false
	}
	s.mu.Unlock()
}

func (s *SwitchingElement) onWatchdogFired() {
	s.StreamEnded()
}

func (s *SwitchingElement) onUpstreamTag(t *tag.Tag) {
	s.armWatchdog() // any tag activity resets the inactivity timer

	if t.Type == tag.TypeEOS {
		s.StreamEnded()
		return
	}

	if !s.policy.NotifyTag(t) {
		return
	}

	normalized := s.normalizer.Process(t, t.StreamTimeMs, 0)

	s.mu.Lock()
	d, ok := s.distributorForTag(normalized)
	s.mu.Unlock()
	if ok {
		d.DistributeTag(normalized)
	}
}

func (s *SwitchingElement) distributorForTag(t *tag.Tag) (*Distributor, bool) {
	if t.FlavourMask == 0 {
		// Lifecycle tag: broadcast to every distributor.
		for _, d := range s.distributors {
			d.DistributeTag(t)
		}
		return nil, false
	}
	for _, d := range s.distributors {
		if d.matches(t) {
			return d, true
		}
	}
	return nil, false
}

// StreamEnded is fired by upstream EOS or the tag-inactivity watchdog. It
// consults the policy; if NotifyEos returns true the element stays
// registered-as-idle awaiting SwitchCurrentMedia, otherwise every
// downstream client is closed.
func (s *SwitchingElement) StreamEnded() {
	s.unregisterUpstream()

	if s.policy.NotifyEos() {
		return
	}

	for _, d := range s.distributors {
		d.CloseAllCallbacks(false)
	}
}

// nowMs is a var so tests can substitute a deterministic clock instead of
// sleeping kRegisterMinIntervalMs in real time.
var nowMs = func() int64 { return time.Now().UnixMilli() }
