// Package tag implements the polymorphic media/control unit that flows
// through the element graph (SPEC_FULL.md §3.1, §4.5).
//
// The teacher's C++ ancestor (original_source/whisperstreamlib/base/tag.h)
// used a hashed mutex pool to guard a manual reference count; Go has
// first-class atomics, so Tag holds an atomic.Int32 counter instead
// (SPEC_FULL.md §5, §9).
package tag

import (
	"fmt"
	"sync/atomic"
)

// Type identifies the concrete flavor of a Tag's payload.
type Type int

const (
	TypeFLV Type = iota
	TypeFLVHeader
	TypeMP3
	TypeAAC
	TypeInternal
	TypeF4V
	TypeRaw
	TypeBOS
	TypeEOS
	TypeFeatureFound
	TypeCuePoint
	TypeSourceStarted
	TypeSourceEnded
	TypeComposed
	TypeOSD
	TypeSeekPerformed
	TypeFlush
	TypeBootstrapBegin
	TypeBootstrapEnd
)

func (t Type) String() string {
	switch t {
	case TypeFLV:
		return "FLV"
	case TypeFLVHeader:
		return "FLV_HEADER"
	case TypeMP3:
		return "MP3"
	case TypeAAC:
		return "AAC"
	case TypeInternal:
		return "INTERNAL"
	case TypeF4V:
		return "F4V"
	case TypeRaw:
		return "RAW"
	case TypeBOS:
		return "BOS"
	case TypeEOS:
		return "EOS"
	case TypeFeatureFound:
		return "FEATURE_FOUND"
	case TypeCuePoint:
		return "CUE_POINT"
	case TypeSourceStarted:
		return "SOURCE_STARTED"
	case TypeSourceEnded:
		return "SOURCE_ENDED"
	case TypeComposed:
		return "COMPOSED"
	case TypeOSD:
		return "OSD"
	case TypeSeekPerformed:
		return "SEEK_PERFORMED"
	case TypeFlush:
		return "FLUSH"
	case TypeBootstrapBegin:
		return "BOOTSTRAP_BEGIN"
	case TypeBootstrapEnd:
		return "BOOTSTRAP_END"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Attributes is a bit set of tag characteristics. The high byte must be
// zero (SPEC_FULL.md §3.1); the low 24 bits are ours to use.
type Attributes uint32

const (
	AttrMetadata Attributes = 1 << iota
	AttrAudio
	AttrVideo
	AttrDroppable
	AttrCanResync
)

const attributesHighByteMask = 0xFF000000

// Tag is a ref-counted media/control unit.
//
// FlavourMask must have exactly one bit set for an ordinary tag (§8,
// invariant 1); it is assigned by the request/distributor machinery, not
// by the tag's producer, so a freshly minted Tag has FlavourMask == 0
// until an explicit SetFlavour call stamps it; Distributor.DistributeTag
// only reads it.
type Tag struct {
	Type        Type
	attrs       Attributes
	FlavourMask uint32
	DurationMs  int64
	Size        int

	// StreamTimeMs is filled in by the normalizer (§4.5); zero until then.
	StreamTimeMs int64

	// IsFinal marks a SOURCE_STARTED/SOURCE_ENDED tag as not subject to
	// further path-prefixing by an enclosing FilteringElement (§4.5).
	IsFinal bool

	// Forced is only meaningful on an EOS tag: true means the close was
	// policy-driven, false means it's a normal upstream termination (§7).
	Forced bool

	// Path carries the SOURCE_STARTED/SOURCE_ENDED media path.
	Path string

	// Payload is the opaque codec-defined body (FLV/F4V/MP3/AAC bytes, or
	// nil for pure lifecycle markers). Concrete codec parsing is out of
	// scope (SPEC_FULL.md Non-goals); the core only moves these bytes.
	Payload []byte

	refs *atomic.Int32
}

// New creates a fresh Tag with a ref-count of one.
func New(t Type, attrs Attributes) *Tag {
	rc := &atomic.Int32{}
	rc.Store(1)
	return &Tag{
		Type:  t,
		attrs: attrs & ^Attributes(attributesHighByteMask),
		refs:  rc,
	}
}

// Attributes returns the attribute bit set.
func (t *Tag) Attributes() Attributes { return t.attrs }

func (t *Tag) IsAudio() bool      { return t.attrs&AttrAudio != 0 }
func (t *Tag) IsVideo() bool      { return t.attrs&AttrVideo != 0 }
func (t *Tag) IsMetadata() bool   { return t.attrs&AttrMetadata != 0 }
func (t *Tag) IsDroppable() bool  { return t.attrs&AttrDroppable != 0 }
func (t *Tag) CanResync() bool    { return t.attrs&AttrCanResync != 0 }

// SetFlavour sets the exactly-one-bit flavor mask for flavor index f
// (0..31). Lifecycle tags such as EOS that are not flavor-scoped may keep
// FlavourMask == 0 and are delivered to every callback by the distributor.
func (t *Tag) SetFlavour(f int) {
	t.FlavourMask = 1 << uint(f)
}

// IncRef bumps the reference count. Used before a tag crosses a selector
// boundary via RunInSelectLoop (SPEC_FULL.md §9).
func (t *Tag) IncRef() {
	t.refs.Add(1)
}

// DecRef drops the reference count; when it reaches zero the tag's buffer
// is eligible for reuse by its producer. The core never pools buffers
// itself (that's a producer-side optimization out of THE CORE's scope),
// so DecRef here is purely bookkeeping for invariant-checking callers.
func (t *Tag) DecRef() int32 {
	return t.refs.Add(-1)
}

// RefCount reports the current reference count, chiefly for tests.
func (t *Tag) RefCount() int32 {
	return t.refs.Load()
}

// Clone produces an owned deep copy suitable for queueing across a
// selector boundary: it shares no mutable state with the original (§3.1
// invariant) and starts with its own ref-count of one.
func (t *Tag) Clone() *Tag {
	var payload []byte
	if t.Payload != nil {
		payload = make([]byte, len(t.Payload))
		copy(payload, t.Payload)
	}
	rc := &atomic.Int32{}
	rc.Store(1)
	return &Tag{
		Type:         t.Type,
		attrs:        t.attrs,
		FlavourMask:  t.FlavourMask,
		DurationMs:   t.DurationMs,
		Size:         t.Size,
		StreamTimeMs: t.StreamTimeMs,
		IsFinal:      t.IsFinal,
		Forced:       t.Forced,
		Path:         t.Path,
		Payload:      payload,
		refs:         rc,
	}
}

// NewEOS builds a SPEC_FULL.md §4.5/§7 end-of-stream marker.
func NewEOS(forced bool) *Tag {
	t := New(TypeEOS, 0)
	t.Forced = forced
	return t
}

// NewSourceStarted builds a SOURCE_STARTED lifecycle marker for path.
func NewSourceStarted(path string) *Tag {
	t := New(TypeSourceStarted, AttrMetadata)
	t.Path = path
	return t
}

// NewSourceEnded builds a SOURCE_ENDED lifecycle marker for path.
func NewSourceEnded(path string) *Tag {
	t := New(TypeSourceEnded, AttrMetadata)
	t.Path = path
	return t
}

// WithPathPrefix returns a clone with Path prefixed by name + "/", used by
// FilteringElement when rewriting SOURCE_STARTED/SOURCE_ENDED tags that
// are not IsFinal (§4.5).
func (t *Tag) WithPathPrefix(name string) *Tag {
	c := t.Clone()
	if c.Path != "" {
		c.Path = name + "/" + c.Path
	} else {
		c.Path = name
	}
	return c
}
