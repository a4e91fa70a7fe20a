package lan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
	"github.com/nerrad567/gray-logic-lifx/internal/lifx/transport"
)

type collector struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (c *collector) OnMessage(msg *protocol.Message, _ string, _ transport.Transport) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestManager(t *testing.T, d *fakeDialer) *Manager {
	t.Helper()
	m, err := New(context.Background(), Config{
		Dialer:                   d,
		DiscoveryIntervalNoSites: 20 * time.Millisecond,
		DiscoveryInterval:        time.Hour,
		Site: SiteConfig{
			ScanDelay: time.Hour,
			Gateway:   GatewayConfig{MessageRate: 200},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerDiscovery(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	broadcast := d.udpFor(t, "255.255.255.255:56700")

	m.Discover()
	eventually(t, func() bool { return len(broadcast.messagesOfType(protocol.TypeGetPanGateway)) >= 2 })

	probe := broadcast.messagesOfType(protocol.TypeGetPanGateway)[0]
	if !probe.Tagged() || !probe.Path.IsAllSites() {
		t.Errorf("discovery path = %v, want tagged all-sites", probe.Path)
	}

	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")
	if ids := m.SiteIDs(); len(ids) != 1 || ids[0] != testSite {
		t.Fatalf("SiteIDs() = %v, want [%s]", ids, testSite)
	}
	if n := len(m.Gateways()); n != 1 {
		t.Errorf("Gateways() = %d, want 1", n)
	}

	// Once a site is known the loop backs off to the long interval.
	time.Sleep(40 * time.Millisecond)
	before := len(broadcast.messagesOfType(protocol.TypeGetPanGateway))
	time.Sleep(60 * time.Millisecond)
	if after := len(broadcast.messagesOfType(protocol.TypeGetPanGateway)); after != before {
		t.Errorf("discovery continued at short interval: %d -> %d", before, after)
	}
}

func TestManagerWriteRouting(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	broadcast := d.udpFor(t, "255.255.255.255:56700")
	peer := d.udpFor(t, "255.255.255.255:56750")
	ctx := context.Background()

	// Unknown site.
	err := m.Write(ctx, deviceMessage(t, &protocol.GetPower{}))
	if !errors.Is(err, ErrUnknownSite) {
		t.Errorf("Write() to unknown site error = %v, want ErrUnknownSite", err)
	}

	// All sites goes to broadcast.
	if err := m.Write(ctx, protocol.NewMessage(protocol.AllSitesPath(), &protocol.LightGet{})); err != nil {
		t.Fatalf("Write() all sites error = %v", err)
	}
	if n := len(broadcast.messagesOfType(protocol.TypeLightGet)); n != 1 {
		t.Errorf("broadcast LightGet = %d, want 1", n)
	}

	// Known site goes to its gateway.
	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")
	gw := d.udpFor(t, "10.0.0.5:56700")
	if err := m.Write(ctx, deviceMessage(t, &protocol.SetPower{Level: 1})); err != nil {
		t.Fatalf("Write() to site error = %v", err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Flush(flushCtx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := len(gw.messagesOfType(protocol.TypeSetPower)); n != 1 {
		t.Errorf("gateway SetPower = %d, want 1", n)
	}

	// Every write is mirrored to peers.
	if n := len(peer.messagesOfType(protocol.TypeSetPower)); n != 1 {
		t.Errorf("peer SetPower = %d, want 1", n)
	}

	if err := m.Write(ctx, &protocol.Message{Payload: &protocol.GetPower{}}); !errors.Is(err, protocol.ErrNoPath) {
		t.Errorf("Write() pathless error = %v, want ErrNoPath", err)
	}
}

func TestManagerForwardsInbound(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	broadcast := d.udpFor(t, "255.255.255.255:56700")
	peer := d.udpFor(t, "255.255.255.255:56750")

	all := &collector{}
	peers := &collector{}
	m.AddListener(all)
	m.AddPeerListener(peers)

	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")
	gw := d.udpFor(t, "10.0.0.5:56700")
	gw.deliver(deviceMessage(t, &protocol.StatePower{Level: 3}), "10.0.0.5")
	peer.deliver(deviceMessage(t, &protocol.SetPower{Level: 3}), "10.0.0.9")

	if n := all.count(); n != 2 {
		t.Errorf("listener frames = %d, want 2 (announcement + gateway frame)", n)
	}
	if n := peers.count(); n != 1 {
		t.Errorf("peer frames = %d, want 1", n)
	}
}

func TestManagerFirmwareViaBroadcast(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	broadcast := d.udpFor(t, "255.255.255.255:56700")

	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")
	broadcast.deliver(deviceMessage(t, &protocol.StateMeshFirmware{Version: 1<<16 | 2}), "10.0.0.5")

	if r := m.Gateways()[0].MessageRate(); r != DefaultUpgradedMessageRate {
		t.Errorf("MessageRate() = %v, want %v", r, DefaultUpgradedMessageRate)
	}
}

func TestManagerMessageRate(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	if r := m.MessageRate(); r != DefaultMessageRate {
		t.Errorf("MessageRate() with no sites = %v, want %v", r, DefaultMessageRate)
	}

	broadcast := d.udpFor(t, "255.255.255.255:56700")
	broadcast.deliver(announcement(t, testSite, "d073d5000001", protocol.ServiceUDP, 56700), "10.0.0.5")
	broadcast.deliver(announcement(t, testSite, "d073d5000002", protocol.ServiceUDP, 56700), "10.0.0.6")
	m.Gateways()[0].SetMessageRate(50)

	if r := m.MessageRate(); r != 50 {
		t.Errorf("MessageRate() = %v, want slowest gateway 50", r)
	}
}

func TestManagerGatewayStats(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d)
	if stats := m.GatewayStats(); len(stats) != 0 {
		t.Fatalf("GatewayStats() with no sites = %v", stats)
	}

	broadcast := d.udpFor(t, "255.255.255.255:56700")
	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")
	eventually(t, func() bool {
		stats := m.GatewayStats()
		return len(stats) == 1 && stats[0].UDPConnected
	})

	st := m.GatewayStats()[0]
	if st.ID != testGateway || st.SiteID != testSite || st.IP != "10.0.0.5" {
		t.Errorf("GatewayStats() = %+v", st)
	}
	if st.TCPConnected {
		t.Error("TCPConnected = true without a TCP announcement")
	}
}

func TestManagerCloseRejectsWrites(t *testing.T) {
	d := newFakeDialer()
	m, err := New(context.Background(), Config{Dialer: d})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Discover()
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Write(context.Background(), protocol.NewMessage(protocol.AllSitesPath(), &protocol.LightGet{})); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
}

func TestManagerIgnoresAnnouncementAfterClose(t *testing.T) {
	d := newFakeDialer()
	m, err := New(context.Background(), Config{Dialer: d})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	broadcast := d.udpFor(t, "255.255.255.255:56700")
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	dials := d.dials()

	broadcast.deliver(announcement(t, testSite, testGateway, protocol.ServiceUDP, 56700), "10.0.0.5")

	if n := m.SiteCount(); n != 0 {
		t.Errorf("SiteCount() after Close = %d, want 0", n)
	}
	if n := d.dials(); n != dials {
		t.Errorf("dials after Close = %d, want %d", n, dials)
	}
}
