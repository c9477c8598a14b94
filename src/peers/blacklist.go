package peers

import "strings"

// BlacklistRule excludes a host, optionally restricted to some schemes and
// some ports. An empty Schemes or Ports list matches any scheme or port.
type BlacklistRule struct {
	Host    string   `mapstructure:"host"`
	Schemes []string `mapstructure:"schemes"`
	Ports   []uint16 `mapstructure:"ports"`
}

// Matches is true if the rule excludes addr.
func (r BlacklistRule) Matches(addr Addr) bool {
	if !strings.EqualFold(r.Host, addr.Host) {
		return false
	}

	if len(r.Schemes) > 0 {
		found := false
		for _, s := range r.Schemes {
			if s == addr.Scheme {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Ports) > 0 {
		found := false
		for _, p := range r.Ports {
			if p == addr.Port {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// Blacklist is a list of rules. An address is blacklisted if any rule
// matches it.
type Blacklist []BlacklistRule

// Matches is true if any rule excludes addr.
func (b Blacklist) Matches(addr Addr) bool {
	for _, r := range b {
		if r.Matches(addr) {
			return true
		}
	}
	return false
}

// MatchesHost is true if a rule excludes host regardless of scheme and port.
// It is used for inbound connections, where only the remote host is known.
func (b Blacklist) MatchesHost(host string) bool {
	for _, r := range b {
		if strings.EqualFold(r.Host, host) && len(r.Schemes) == 0 && len(r.Ports) == 0 {
			return true
		}
	}
	return false
}
