package routing

import "fmt"

// Target is the caller's addressing intent before resolution.
//
// Exactly one of DeviceID, Tag or Broadcast is set, optionally qualified by
// SiteID. A target with only SiteID addresses every device on that site.
type Target struct {
	DeviceID  string
	SiteID    string
	Tag       string
	Broadcast bool
}

// DeviceTarget addresses one device wherever it lives.
func DeviceTarget(deviceID string) Target {
	return Target{DeviceID: deviceID}
}

// TagTarget addresses every device carrying label, on every site.
func TagTarget(label string) Target {
	return Target{Tag: label}
}

// BroadcastTarget addresses every device on every site.
func BroadcastTarget() Target {
	return Target{Broadcast: true}
}

// SiteTarget addresses every device on one site.
func SiteTarget(siteID string) Target {
	return Target{SiteID: siteID}
}

// Validate checks that the discriminators do not conflict.
func (t Target) Validate() error {
	set := 0
	if t.DeviceID != "" {
		set++
	}
	if t.Tag != "" {
		set++
	}
	if t.Broadcast {
		set++
	}
	switch {
	case set > 1:
		return fmt.Errorf("%w: %s sets more than one of device, tag and broadcast", ErrInvalidTarget, t)
	case set == 0 && t.SiteID == "":
		return fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	return nil
}

func (t Target) String() string {
	switch {
	case t.Tag != "":
		return fmt.Sprintf("tag:%s", t.Tag)
	case t.Broadcast:
		return "broadcast"
	case t.DeviceID != "" && t.SiteID != "":
		return fmt.Sprintf("device:%s@%s", t.DeviceID, t.SiteID)
	case t.DeviceID != "":
		return fmt.Sprintf("device:%s", t.DeviceID)
	default:
		return fmt.Sprintf("site:%s", t.SiteID)
	}
}
