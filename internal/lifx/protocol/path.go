package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Address field sizes.
const (
	// SiteSize is the size of the raw site field in bytes.
	SiteSize = 6

	// TargetSize is the size of the raw target field in bytes.
	TargetSize = 8

	// DeviceIDSize is the number of target bytes holding a device id.
	DeviceIDSize = 6

	// MaxTags is the number of tag slots available per site.
	MaxTags = 64
)

// ProtocolPath is the resolved address half of a Message: a site plus either
// one device or a tag bitmask.
//
// A path is device-addressed when Tagged is false and tag-addressed when it is
// true. The zero value is the all-zero site with no target, which is only
// meaningful tagged (see AllSitesPath).
type ProtocolPath struct {
	RawSite   [SiteSize]byte
	RawTarget [TargetSize]byte
	Tagged    bool
}

// NewDevicePath builds an untagged path addressing one device on a site.
//
// Parameters:
//   - siteID: 12 hex characters
//   - deviceID: 12 hex characters
//
// Returns:
//   - ProtocolPath: The device path
//   - error: ErrInvalidID if either id cannot be decoded
func NewDevicePath(siteID, deviceID string) (ProtocolPath, error) {
	var p ProtocolPath
	if err := decodeID(p.RawSite[:], siteID); err != nil {
		return ProtocolPath{}, err
	}
	if err := decodeID(p.RawTarget[:DeviceIDSize], deviceID); err != nil {
		return ProtocolPath{}, err
	}
	return p, nil
}

// NewTagPath builds a tagged path addressing the given tag ids on a site.
// An empty tag list addresses every device on the site.
func NewTagPath(siteID string, tagIDs []int) (ProtocolPath, error) {
	p := ProtocolPath{Tagged: true}
	if err := decodeID(p.RawSite[:], siteID); err != nil {
		return ProtocolPath{}, err
	}
	binary.LittleEndian.PutUint64(p.RawTarget[:], TagsFieldFromIDs(tagIDs))
	return p, nil
}

// AllSitesPath returns the tagged all-zero-site path used before any site is
// known. Frames sent on it reach every gateway that hears the broadcast.
func AllSitesPath() ProtocolPath {
	return ProtocolPath{Tagged: true}
}

// SiteID returns the site as lowercase hex.
func (p ProtocolPath) SiteID() string {
	return hex.EncodeToString(p.RawSite[:])
}

// DeviceID returns the device id as lowercase hex. The boolean is false for
// tagged paths, which carry no device.
func (p ProtocolPath) DeviceID() (string, bool) {
	if p.Tagged {
		return "", false
	}
	return hex.EncodeToString(p.RawTarget[:DeviceIDSize]), true
}

// TagsField returns the raw target interpreted as a 64-bit tag bitmask.
func (p ProtocolPath) TagsField() uint64 {
	return binary.LittleEndian.Uint64(p.RawTarget[:])
}

// TagIDs returns the tag ids set in the target bitmask, or nil for an
// untagged path.
func (p ProtocolPath) TagIDs() []int {
	if !p.Tagged {
		return nil
	}
	return TagIDsFromField(p.TagsField())
}

// IsAllSites reports whether the site is the all-zero sentinel.
func (p ProtocolPath) IsAllSites() bool {
	return p.RawSite == [SiteSize]byte{}
}

// String returns a readable form for logs.
func (p ProtocolPath) String() string {
	if id, ok := p.DeviceID(); ok {
		return fmt.Sprintf("site=%s device=%s", p.SiteID(), id)
	}
	return fmt.Sprintf("site=%s tags=%v", p.SiteID(), p.TagIDs())
}

// TagIDsFromField expands a tag bitmask into ascending tag ids.
// The result is never nil.
func TagIDsFromField(field uint64) []int {
	ids := make([]int, 0, bits.OnesCount64(field))
	for field != 0 {
		id := bits.TrailingZeros64(field)
		ids = append(ids, id)
		field &^= 1 << uint(id)
	}
	return ids
}

// TagsFieldFromIDs folds tag ids into a bitmask. Ids outside 0..63 are ignored.
func TagsFieldFromIDs(ids []int) uint64 {
	var field uint64
	for _, id := range ids {
		if id < 0 || id >= MaxTags {
			continue
		}
		field |= 1 << uint(id)
	}
	return field
}

func decodeID(dst []byte, id string) error {
	if len(id) != len(dst)*2 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if _, err := hex.Decode(dst, []byte(id)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidID, id, err)
	}
	return nil
}
