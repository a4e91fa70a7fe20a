package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/routing"
)

// TagManager creates tags and edits device tag membership over the
// network. Obtain one from Context.Tags.
type TagManager struct {
	c *Context
}

// CreateTag names the lowest free tag slot on siteID and announces it to
// the site. The slot is claimed locally before anything is sent, and
// released again if the announcement cannot be written.
//
// Returns:
//   - routing.TagEntry: The claimed slot
//   - error: routing.ErrTagLimitReached, or the send error
func (m *TagManager) CreateTag(ctx context.Context, label, siteID string) (routing.TagEntry, error) {
	tags := m.c.routing.Tags()

	entry, err := tags.ReserveNextUnused(siteID, label)
	if err != nil {
		return routing.TagEntry{}, err
	}

	payload := &protocol.SetTagLabels{
		Tags:  protocol.TagsFieldFromIDs([]int{entry.TagID}),
		Label: protocol.NewLabel(label),
	}
	if err := m.c.sendNow(ctx, routing.SiteTarget(siteID), payload, SendOptions{}); err != nil {
		tags.Delete(siteID, entry.TagID)
		return routing.TagEntry{}, fmt.Errorf("creating tag %q on %s: %w", label, siteID, err)
	}

	m.c.logger.Info("tag created", "site", siteID, "tag_id", entry.TagID, "label", label)
	return entry, nil
}

// AddTagToDevice adds label to deviceID, creating the tag on the device's
// site if needed. It returns once the device reports the new tag set.
//
// Returns:
//   - error: routing.ErrUnroutable if the device has not been seen,
//     routing.ErrTagLimitReached, or a *MessageTimeoutError
func (m *TagManager) AddTagToDevice(ctx context.Context, label, deviceID string) error {
	siteID, err := m.siteOf(deviceID)
	if err != nil {
		return err
	}

	entry, ok := m.c.routing.Tags().EntryWithLabel(siteID, label)
	if !ok {
		if entry, err = m.CreateTag(ctx, label, siteID); err != nil {
			return err
		}
	}

	current, err := m.deviceTags(ctx, siteID, deviceID)
	if err != nil {
		return err
	}
	return m.setDeviceTags(ctx, siteID, deviceID, current, current|tagBit(entry.TagID))
}

// RemoveTagFromDevice removes label from deviceID. Removing a tag the
// device's site does not know is a no-op.
func (m *TagManager) RemoveTagFromDevice(ctx context.Context, label, deviceID string) error {
	siteID, err := m.siteOf(deviceID)
	if err != nil {
		return err
	}

	entry, ok := m.c.routing.Tags().EntryWithLabel(siteID, label)
	if !ok {
		return nil
	}

	current, err := m.deviceTags(ctx, siteID, deviceID)
	if err != nil {
		return err
	}
	return m.setDeviceTags(ctx, siteID, deviceID, current, current&^tagBit(entry.TagID))
}

func (m *TagManager) siteOf(deviceID string) (string, error) {
	siteID, ok := m.c.routing.Table().SiteIDFor(deviceID)
	if !ok {
		return "", fmt.Errorf("%w: device %s has not been seen", routing.ErrUnroutable, deviceID)
	}
	return siteID, nil
}

// deviceTags returns the device's tag bitmask, asking for it until the
// device reports one.
func (m *TagManager) deviceTags(ctx context.Context, siteID, deviceID string) (uint64, error) {
	target := routing.Target{DeviceID: deviceID, SiteID: siteID}
	var field uint64

	err := m.c.tryUntil(ctx, deviceID, "get tags",
		func() bool {
			e, ok := m.c.routing.Table().Entry(deviceID)
			if !ok || !e.TagsKnown {
				return false
			}
			field = protocol.TagsFieldFromIDs(e.TagIDs)
			return true
		},
		func(ctx context.Context) {
			if err := m.c.sendNow(ctx, target, &protocol.GetTags{}, SendOptions{}); err != nil {
				m.c.logger.Debug("get tags not sent", "device", deviceID, "error", err)
			}
		})
	return field, err
}

// setDeviceTags writes want until the device reports it.
func (m *TagManager) setDeviceTags(ctx context.Context, siteID, deviceID string, current, want uint64) error {
	if current == want {
		return nil
	}
	target := routing.Target{DeviceID: deviceID, SiteID: siteID}

	return m.c.tryUntil(ctx, deviceID, "set tags",
		func() bool {
			e, ok := m.c.routing.Table().Entry(deviceID)
			return ok && e.TagsKnown && protocol.TagsFieldFromIDs(e.TagIDs) == want
		},
		func(ctx context.Context) {
			if err := m.c.sendNow(ctx, target, &protocol.SetTags{Tags: want}, SendOptions{}); err != nil {
				m.c.logger.Debug("set tags not sent", "device", deviceID, "error", err)
			}
		})
}

// Tags returns every known label.
func (m *TagManager) Tags() []string {
	return m.c.routing.Tags().Labels()
}

// TagsForDevice returns the labels deviceID reported.
func (m *TagManager) TagsForDevice(deviceID string) []string {
	return m.c.routing.TagsForDevice(deviceID)
}

// DevicesWithTag returns the devices currently reporting label.
func (m *TagManager) DevicesWithTag(label string) []string {
	return m.c.routing.DevicesWithTag(label)
}

// UnusedTags returns the labels no routable device reports.
func (m *TagManager) UnusedTags() []string {
	var unused []string
	for _, label := range m.Tags() {
		if len(m.DevicesWithTag(label)) == 0 {
			unused = append(unused, label)
		}
	}
	return unused
}

// PurgeUnusedTags clears the label of every unused tag on its site.
//
// A device that is offline looks unused: its tags are cleared too and it
// comes back untagged. Callers decide when that is acceptable.
//
// Returns:
//   - []string: The labels that were cleared
//   - error: Send errors, joined
func (m *TagManager) PurgeUnusedTags(ctx context.Context) ([]string, error) {
	unused := m.UnusedTags()

	var errs []error
	for _, label := range unused {
		m.c.logger.Info("purging tag", "label", label)
		for _, e := range m.c.routing.Tags().EntriesWithLabel(label) {
			payload := &protocol.SetTagLabels{Tags: tagBit(e.TagID)}
			if err := m.c.sendNow(ctx, routing.SiteTarget(e.SiteID), payload, SendOptions{}); err != nil {
				errs = append(errs, fmt.Errorf("purging %q on %s: %w", label, e.SiteID, err))
			}
		}
	}
	return unused, errors.Join(errs...)
}

func tagBit(id int) uint64 {
	return protocol.TagsFieldFromIDs([]int{id})
}
