// Package ipintel defines the IP intelligence contract consumed by the
// risk engine. The production provider is an external service; the
// static provider here serves development and tests. A failed lookup
// never aborts an assessment; the engine degrades to a conservative
// IP sub-score instead.
package ipintel

import (
	"context"
	"net"
	"strings"
	"sync"
)

// Intel is the reputation verdict for a single IP address.
type Intel struct {
	IsVPN        bool   `json:"is_vpn"`
	IsProxy      bool   `json:"is_proxy"`
	IsDatacenter bool   `json:"is_datacenter"`
	IsTorExit    bool   `json:"is_tor_exit"`
	Country      string `json:"country"`
}

// Service resolves IP reputation.
type Service interface {
	Lookup(ctx context.Context, ip string) (*Intel, error)
}

// StaticProvider serves reputation from in-memory CIDR lists. The
// lists are small operator-maintained sets, not a replacement for a
// commercial feed.
type StaticProvider struct {
	mu          sync.RWMutex
	datacenters []*net.IPNet
	torExits    map[string]bool
	vpnRanges   []*net.IPNet
	countries   map[string]string // CIDR prefix -> ISO country, coarse
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		torExits:  make(map[string]bool),
		countries: make(map[string]string),
	}
}

// AddDatacenterCIDR registers a datacenter range.
func (p *StaticProvider) AddDatacenterCIDR(cidr string) error {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.datacenters = append(p.datacenters, ipNet)
	p.mu.Unlock()
	return nil
}

// AddVPNCIDR registers a known VPN egress range.
func (p *StaticProvider) AddVPNCIDR(cidr string) error {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.vpnRanges = append(p.vpnRanges, ipNet)
	p.mu.Unlock()
	return nil
}

// AddTorExit registers a Tor exit node address.
func (p *StaticProvider) AddTorExit(ip string) {
	p.mu.Lock()
	p.torExits[strings.TrimSpace(ip)] = true
	p.mu.Unlock()
}

func (p *StaticProvider) Lookup(ctx context.Context, ip string) (*Intel, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return &Intel{}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	intel := &Intel{
		IsTorExit: p.torExits[ip],
	}
	for _, ipNet := range p.datacenters {
		if ipNet.Contains(parsed) {
			intel.IsDatacenter = true
			break
		}
	}
	for _, ipNet := range p.vpnRanges {
		if ipNet.Contains(parsed) {
			intel.IsVPN = true
			break
		}
	}
	return intel, nil
}
