// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rule defines the packet-filter rule value type shared by the
// parser, driver and command engine.
package rule

import "fmt"

// Targets recognized out of the box. CREATE grows this set at runtime when a
// chain is dynamically registered (see registry.go).
const (
	TargetDrop   = "DROP"
	TargetAccept = "ACCEPT"
	TargetReject = "REJECT"
	TargetCreate = "CREATE"
	TargetSNAT   = "SNAT"
)

// Chains recognized out of the box. CREATE grows this set at runtime.
const (
	ChainInput      = "INPUT"
	ChainOutput     = "OUTPUT"
	ChainForward    = "FORWARD"
	ChainPostrouting = "POSTROUTING"
)

// defaults mirror the canonical construction defaults of the original
// packet-filter tooling: a rule with no explicit protocol, interface or
// address applies to everything.
const (
	DefaultProto       = "all"
	DefaultOpt         = "--"
	DefaultIface       = "*"
	DefaultAddress     = "0.0.0.0/0"
)

// Rule is the packet-filter rule value type. Num/Pkts/Bytes are observational
// fields populated only when a Rule is produced by listing the live ruleset;
// they are deliberately excluded from Equal and Key so that a freshly parsed
// rule compares equal to its already-applied counterpart.
type Rule struct {
	Num         int
	Pkts        int64
	Bytes       int64
	Target      string
	Prot        string
	Opt         string
	Chain       string
	Inp         string
	Out         string
	Source      string
	Destination string
	Extra       string
}

// New builds a Rule applying the canonical defaults for any field left zero.
func New(r Rule) Rule {
	if r.Prot == "" {
		r.Prot = DefaultProto
	}
	if r.Opt == "" {
		r.Opt = DefaultOpt
	}
	if r.Inp == "" {
		r.Inp = DefaultIface
	}
	if r.Out == "" {
		r.Out = DefaultIface
	}
	if r.Source == "" {
		r.Source = DefaultAddress
	}
	if r.Destination == "" {
		r.Destination = DefaultAddress
	}
	return r
}

// Equal reports whether two rules describe the same packet-filter effect,
// ignoring the observational counters that only a live listing populates.
func (r Rule) Equal(other Rule) bool {
	return r.Chain == other.Chain &&
		r.Target == other.Target &&
		r.Prot == other.Prot &&
		r.Opt == other.Opt &&
		r.Inp == other.Inp &&
		r.Out == other.Out &&
		r.Source == other.Source &&
		r.Destination == other.Destination &&
		r.Extra == other.Extra
}

// Key returns a comparable value usable as a Go map key, built from exactly
// the fields Equal compares. A ruleset is represented as map[Key]Rule rather
// than a hand-rolled set so membership tests are O(1) without a custom hash.
type Key struct {
	Chain, Target, Prot, Opt, Inp, Out, Source, Destination, Extra string
}

func (r Rule) Key() Key {
	return Key{
		Chain:       r.Chain,
		Target:      r.Target,
		Prot:        r.Prot,
		Opt:         r.Opt,
		Inp:         r.Inp,
		Out:         r.Out,
		Source:      r.Source,
		Destination: r.Destination,
		Extra:       r.Extra,
	}
}

// String renders the rule for logs, roughly mirroring the column order a
// listing would show.
func (r Rule) String() string {
	return fmt.Sprintf("%s %s prot=%s opt=%s in=%s out=%s src=%s dst=%s extra=%q",
		r.Chain, r.Target, r.Prot, r.Opt, r.Inp, r.Out, r.Source, r.Destination, r.Extra)
}

// SourceIsAny, DestinationIsAny, InAny and OutAny report whether the
// address or interface is left at the match-anything default; RuleToArgv in
// the driver package uses them to omit match-anything clauses.
func (r Rule) SourceIsAny() bool      { return r.Source == DefaultAddress }
func (r Rule) DestinationIsAny() bool { return r.Destination == DefaultAddress }
func (r Rule) InAny() bool            { return r.Inp == DefaultIface }
func (r Rule) OutAny() bool           { return r.Out == DefaultIface }
