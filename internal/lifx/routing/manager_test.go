package routing

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

const (
	siteA   = "316c69667831"
	siteB   = "316c69667832"
	device1 = "d073d5000001"
	device2 = "d073d5000002"
)

func TestResolveTarget_TagOnTwoSites(t *testing.T) {
	m := NewManager(nil)
	m.Tags().Update(siteA, 3, "Kitchen")
	m.Tags().Update(siteB, 7, "Kitchen")
	m.Tags().Update(siteB, 8, "Hall")

	paths, err := m.ResolveTarget(TagTarget("Kitchen"))
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}

	want := []struct {
		site  string
		field uint64
	}{
		{siteA, 1 << 3},
		{siteB, 1 << 7},
	}
	for i, w := range want {
		p := paths[i]
		if !p.Tagged {
			t.Errorf("paths[%d].Tagged = false, want true", i)
		}
		if p.SiteID() != w.site {
			t.Errorf("paths[%d].SiteID() = %s, want %s", i, p.SiteID(), w.site)
		}
		if p.TagsField() != w.field {
			t.Errorf("paths[%d].TagsField() = %#x, want %#x", i, p.TagsField(), w.field)
		}
	}
}

func TestResolveTarget_TagFilteredBySite(t *testing.T) {
	m := NewManager(nil)
	m.Tags().Update(siteA, 3, "Kitchen")
	m.Tags().Update(siteB, 7, "Kitchen")

	paths, err := m.ResolveTarget(Target{Tag: "Kitchen", SiteID: siteB})
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v", err)
	}
	if len(paths) != 1 || paths[0].SiteID() != siteB {
		t.Fatalf("paths = %v, want one path on %s", paths, siteB)
	}
}

func TestResolveTarget(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	m.Table().Update(siteA, device1, nil, now)
	m.Table().Update(siteB, device2, nil, now)

	tests := []struct {
		name       string
		target     Target
		wantSites  []string
		wantTagged bool
		wantDevice string
	}{
		{
			name:       "known device goes to its site",
			target:     DeviceTarget(device1),
			wantSites:  []string{siteA},
			wantDevice: device1,
		},
		{
			name:       "unknown device fans out to every site",
			target:     DeviceTarget("d073d50000ff"),
			wantSites:  []string{siteA, siteB},
			wantDevice: "d073d50000ff",
		},
		{
			name:       "device with explicit site",
			target:     Target{DeviceID: device1, SiteID: siteB},
			wantSites:  []string{siteB},
			wantDevice: device1,
		},
		{
			name:       "broadcast covers every site",
			target:     BroadcastTarget(),
			wantSites:  []string{siteA, siteB},
			wantTagged: true,
		},
		{
			name:       "site target",
			target:     SiteTarget(siteA),
			wantSites:  []string{siteA},
			wantTagged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := m.ResolveTarget(tt.target)
			if err != nil {
				t.Fatalf("ResolveTarget() error = %v", err)
			}
			if len(paths) != len(tt.wantSites) {
				t.Fatalf("len(paths) = %d, want %d", len(paths), len(tt.wantSites))
			}
			for i, p := range paths {
				if p.SiteID() != tt.wantSites[i] {
					t.Errorf("paths[%d].SiteID() = %s, want %s", i, p.SiteID(), tt.wantSites[i])
				}
				if p.Tagged != tt.wantTagged {
					t.Errorf("paths[%d].Tagged = %v, want %v", i, p.Tagged, tt.wantTagged)
				}
				if tt.wantTagged {
					if p.TagsField() != 0 {
						t.Errorf("paths[%d].TagsField() = %#x, want 0", i, p.TagsField())
					}
					continue
				}
				if id, _ := p.DeviceID(); id != tt.wantDevice {
					t.Errorf("paths[%d].DeviceID() = %s, want %s", i, id, tt.wantDevice)
				}
			}
		})
	}
}

func TestResolveTarget_Errors(t *testing.T) {
	m := NewManager(nil)

	tests := []struct {
		name    string
		target  Target
		wantErr error
	}{
		{"empty target", Target{}, ErrInvalidTarget},
		{"device and tag", Target{DeviceID: device1, Tag: "x"}, ErrInvalidTarget},
		{"tag and broadcast", Target{Tag: "x", Broadcast: true}, ErrInvalidTarget},
		{"unknown tag", TagTarget("nowhere"), ErrTagNotFound},
		{"device with no sites", DeviceTarget(device1), ErrUnroutable},
		{"bad device id", Target{DeviceID: "zz", SiteID: siteA}, protocol.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ResolveTarget(tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ResolveTarget() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveTarget_BroadcastWithNoSites(t *testing.T) {
	m := NewManager(nil)

	paths, err := m.ResolveTarget(BroadcastTarget())
	if err != nil {
		t.Fatalf("ResolveTarget() error = %v", err)
	}
	if len(paths) != 1 || !paths[0].IsAllSites() || !paths[0].Tagged {
		t.Errorf("paths = %v, want the all-sites path", paths)
	}
}

func stateFrom(t *testing.T, site, device string, payload protocol.Payload) *protocol.Message {
	t.Helper()
	p, err := protocol.NewDevicePath(site, device)
	if err != nil {
		t.Fatalf("NewDevicePath() error = %v", err)
	}
	return protocol.NewMessage(p, payload)
}

func TestUpdateFromMessage_LightState(t *testing.T) {
	m := NewManager(nil)
	m.Tags().Update(siteA, 1, "Lounge")

	msg := stateFrom(t, siteA, device1, &protocol.LightState{Tags: 1<<1 | 1<<4})
	missing := m.UpdateFromMessage(msg, time.Now())

	if missing != 1<<4 {
		t.Errorf("missing = %#x, want %#x", missing, uint64(1<<4))
	}
	e, ok := m.Table().Entry(device1)
	if !ok {
		t.Fatal("device not recorded")
	}
	if e.SiteID != siteA || !e.TagsKnown || !e.HasTag(1) || !e.HasTag(4) {
		t.Errorf("entry = %+v", e)
	}
	if got := m.TagsForDevice(device1); len(got) != 1 || got[0] != "Lounge" {
		t.Errorf("TagsForDevice() = %v, want [Lounge]", got)
	}
	if got := m.DevicesWithTag("Lounge"); len(got) != 1 || got[0] != device1 {
		t.Errorf("DevicesWithTag() = %v, want [%s]", got, device1)
	}
}

func TestUpdateFromMessage_OtherPayloadKeepsTags(t *testing.T) {
	m := NewManager(nil)
	m.UpdateFromMessage(stateFrom(t, siteA, device1, &protocol.StateTags{Tags: 1 << 2}), time.Now())
	m.UpdateFromMessage(stateFrom(t, siteA, device1, &protocol.StatePower{Level: 65535}), time.Now())

	e, _ := m.Table().Entry(device1)
	if !e.HasTag(2) {
		t.Errorf("tags lost after unrelated message: %+v", e)
	}
}

func TestUpdateFromMessage_TagLabels(t *testing.T) {
	m := NewManager(nil)

	m.UpdateFromMessage(stateFrom(t, siteA, device1, &protocol.StateTagLabels{
		Tags:  1<<5 | 1<<6,
		Label: protocol.NewLabel("Porch"),
	}), time.Now())

	for _, id := range []int{5, 6} {
		if e, ok := m.Tags().Entry(siteA, id); !ok || e.Label != "Porch" {
			t.Errorf("tag %d = %+v, %v; want Porch", id, e, ok)
		}
	}

	m.UpdateFromMessage(stateFrom(t, siteA, device1, &protocol.StateTagLabels{Tags: 1 << 5}), time.Now())
	if _, ok := m.Tags().Entry(siteA, 5); ok {
		t.Error("empty label should clear tag 5")
	}
	if _, ok := m.Tags().Entry(siteA, 6); !ok {
		t.Error("tag 6 should survive")
	}
}

func TestUpdateFromMessage_Ignored(t *testing.T) {
	m := NewManager(nil)

	tagged, _ := protocol.NewTagPath(siteA, nil)
	zeroSite, _ := protocol.NewDevicePath("000000000000", device1)

	for name, msg := range map[string]*protocol.Message{
		"tagged":    protocol.NewMessage(tagged, &protocol.LightState{}),
		"zero site": protocol.NewMessage(zeroSite, &protocol.LightState{}),
		"no path":   {Payload: &protocol.LightState{}},
	} {
		m.UpdateFromMessage(msg, time.Now())
		if m.Table().Len() != 0 {
			t.Fatalf("%s frame was recorded", name)
		}
	}
}

func TestTable_UpdateMonotonic(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	tbl.Update(siteA, device1, nil, now)
	tbl.Update(siteB, device1, nil, now.Add(-time.Minute))

	e, _ := tbl.Entry(device1)
	if !e.LastSeen.Equal(now) {
		t.Errorf("LastSeen moved backwards: %v", e.LastSeen)
	}
	if e.SiteID != siteB {
		t.Errorf("SiteID = %s, want %s", e.SiteID, siteB)
	}
	if e.TagsKnown {
		t.Error("TagsKnown = true without any tag report")
	}
}

func TestManager_ClearStaleEntries(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	m.Table().Update(siteA, device1, nil, now.Add(-10*time.Minute))
	m.Table().Update(siteA, device2, nil, now)

	if n := m.ClearStaleEntries(DefaultStaleThreshold); n != 1 {
		t.Errorf("ClearStaleEntries() = %d, want 1", n)
	}
	if _, ok := m.Table().Entry(device1); ok {
		t.Error("stale device still present")
	}
	if _, ok := m.Table().Entry(device2); !ok {
		t.Error("fresh device evicted")
	}
}

func TestTagTable_ReserveNextUnused(t *testing.T) {
	tags := NewTagTable()
	tags.Update(siteA, 0, "Taken")
	tags.Update(siteA, 2, "Also taken")

	e, err := tags.ReserveNextUnused(siteA, "New")
	if err != nil {
		t.Fatalf("ReserveNextUnused() error = %v", err)
	}
	if e.TagID != 1 || e.SiteID != siteA || e.Label != "New" {
		t.Errorf("reserved %+v, want slot 1", e)
	}
	if got, ok := tags.EntryWithLabel(siteA, "New"); !ok || got.TagID != 1 {
		t.Errorf("EntryWithLabel() = %+v, %v", got, ok)
	}

	// Another site has its own slots.
	e, err = tags.ReserveNextUnused(siteB, "New")
	if err != nil || e.TagID != 0 {
		t.Errorf("ReserveNextUnused(siteB) = %+v, %v; want slot 0", e, err)
	}
}

func TestTagTable_ReserveNextUnusedLimit(t *testing.T) {
	tags := NewTagTable()
	for id := 0; id < protocol.MaxTags; id++ {
		tags.Update(siteA, id, fmt.Sprintf("tag-%d", id))
	}
	before := tags.Entries()

	_, err := tags.ReserveNextUnused(siteA, "overflow")
	if !errors.Is(err, ErrTagLimitReached) {
		t.Fatalf("ReserveNextUnused() error = %v, want ErrTagLimitReached", err)
	}

	after := tags.Entries()
	if len(after) != len(before) {
		t.Fatalf("table grew from %d to %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("entry %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if len(tags.EntriesWithLabel("overflow")) != 0 {
		t.Error("overflow label recorded")
	}
}

func TestTagTable_Labels(t *testing.T) {
	tags := NewTagTable()
	tags.Update(siteA, 0, "b")
	tags.Update(siteB, 0, "a")
	tags.Update(siteB, 1, "b")

	got := tags.Labels()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Labels() = %v, want [a b]", got)
	}
	if got := tags.EntriesOnSite(siteB); len(got) != 2 {
		t.Errorf("EntriesOnSite() = %v, want 2 entries", got)
	}
}
