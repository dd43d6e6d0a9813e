// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pfdriver

import "grimm.is/rfw/internal/rule"

// Find returns the subset of rules matching query: for every (field, values)
// pair the rule's value for that field must be one of values. An empty
// query matches every rule. The returned rules keep their Num/Pkts/Bytes
// values.
func Find(rules []rule.Rule, query map[string][]string) []rule.Rule {
	var out []rule.Rule
	for _, r := range rules {
		if matches(r, query) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r rule.Rule, query map[string][]string) bool {
	for field, vals := range query {
		if !contains(vals, fieldValue(r, field)) {
			return false
		}
	}
	return true
}

func fieldValue(r rule.Rule, field string) string {
	switch field {
	case "chain":
		return r.Chain
	case "target":
		return r.Target
	case "prot":
		return r.Prot
	case "opt":
		return r.Opt
	case "inp":
		return r.Inp
	case "out":
		return r.Out
	case "source":
		return r.Source
	case "destination":
		return r.Destination
	case "extra":
		return r.Extra
	default:
		return ""
	}
}

func contains(vals []string, v string) bool {
	for _, want := range vals {
		if want == v {
			return true
		}
	}
	return false
}

func withoutCounters(r rule.Rule) rule.Rule {
	r.Num, r.Pkts, r.Bytes = 0, 0, 0
	return r
}

// ReadSimpleRules returns the rules this agent is responsible for managing:
// for INPUT, only rules with destination left at "match anything" and
// out="*" (i.e. not narrowed to a specific outbound path); for OUTPUT, the
// source-side mirror; for FORWARD, every rule whatever its addresses and
// interfaces; for any other known chain, every rule in it, or (if that chain
// currently has none) a single placeholder carrying only the chain name so
// the caller can still see the chain exists. In every chain only rules whose
// target is registered are returned. When chain is empty, all chains are
// covered. matchingNum controls whether
// Num/Pkts/Bytes survive on the returned rules.
func (d *Driver) ReadSimpleRules(rules []rule.Rule, chain string, matchingNum bool) []rule.Rule {
	var out []rule.Rule
	known := d.reg.HasTarget // any registered target is eligible, matching the historical "RULE_TARGETS" filter

	finish := func(matched []rule.Rule) []rule.Rule {
		if matchingNum {
			return matched
		}
		stripped := make([]rule.Rule, len(matched))
		for i, r := range matched {
			stripped[i] = withoutCounters(r)
		}
		return stripped
	}

	if chain == "" || chain == rule.ChainInput {
		matched := Find(rules, map[string][]string{"chain": {rule.ChainInput}, "destination": {rule.DefaultAddress}, "out": {"*"}})
		matched = filterKnownTarget(matched, known)
		out = append(out, finish(matched)...)
	}
	if chain == "" || chain == rule.ChainOutput {
		matched := Find(rules, map[string][]string{"chain": {rule.ChainOutput}, "source": {rule.DefaultAddress}, "inp": {"*"}})
		matched = filterKnownTarget(matched, known)
		out = append(out, finish(matched)...)
	}
	if chain == "" || chain == rule.ChainForward {
		matched := Find(rules, map[string][]string{"chain": {rule.ChainForward}})
		matched = filterKnownTarget(matched, known)
		out = append(out, finish(matched)...)
	}

	for _, c := range d.reg.Chains() {
		if c == rule.ChainInput || c == rule.ChainOutput || c == rule.ChainForward {
			continue
		}
		if chain != "" && chain != c {
			continue
		}
		matched := Find(rules, map[string][]string{"chain": {c}})
		matched = filterKnownTarget(matched, known)
		if len(matched) == 0 {
			matched = []rule.Rule{{Chain: c}}
		}
		out = append(out, finish(matched)...)
	}

	return out
}

func filterKnownTarget(rules []rule.Rule, known func(string) bool) []rule.Rule {
	var out []rule.Rule
	for _, r := range rules {
		if known(r.Target) {
			out = append(out, r)
		}
	}
	return out
}
