// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cmdparse translates the REST path+query grammar into an action,
// a *Rule, the chain qualifier of a list command, and Directives. The grammar
// itself — which path segments mean what for which chain, and which query
// parameters are recognized — is fixed by the packet-filter rule shape; see
// BuildRule for the segment layout.
package cmdparse

import (
	"net/url"
	"strings"

	"grimm.is/rfw/internal/errors"
	"grimm.is/rfw/internal/iputil"
	"grimm.is/rfw/internal/rule"
	"grimm.is/rfw/internal/timeutil"
)

// Directives carries the typed form of the query-string parameters that
// accompany a mutating command.
type Directives struct {
	Expire *int
	Wait   bool
	Modify string
}

// ConvertIface maps the user-facing interface shorthand ("any", "eth",
// "eth0") to the driver's own naming ("*", "eth+", "eth0").
func ConvertIface(iface string) string {
	if iface == "any" {
		return "*"
	}
	last := iface[len(iface)-1]
	if last < '0' || last > '9' {
		return iface + "+"
	}
	return iface
}

func pathErr(path, msg string) error {
	return errors.Errorf(errors.KindValidation, "incorrect path: %s. %s", path, msg)
}

// splitPath lowercases, trims, validates the leading slash, strips any
// trailing slash, and returns the segments after it. An empty segment
// between two slashes is kept as "".
func splitPath(path string) ([]string, error) {
	p := strings.ToLower(strings.TrimSpace(path))
	if len(p) < 1 || p[0] != '/' {
		return nil, pathErr(path, "")
	}
	if p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	segs := strings.Split(p, "/")[1:]
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = strings.TrimSpace(s)
	}
	return out, nil
}

// ParseCommandPath parses the URL path into an action and, for mutating
// actions, a Rule. For the "list" action, rule is nil and chain (the third
// return value, only meaningful for "list") carries the optionally-given
// chain name. reg supplies the live chain/target registry so CREATE-grown
// chains validate the same as the built-ins.
func ParseCommandPath(path string, reg *rule.Registry) (action string, r *rule.Rule, chain string, err error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", nil, "", err
	}
	if len(segs) == 0 {
		return "help", nil, "", nil
	}

	action = segs[0]
	if reg.HasTarget(strings.ToUpper(action)) {
		built, berr := BuildRule(segs, reg)
		if berr != nil {
			return "", nil, "", pathErr(path, berr.Error())
		}
		return action, built, "", nil
	}

	if action == "list" {
		switch len(segs) {
		case 1:
			return action, nil, "", nil
		case 2:
			c := strings.ToUpper(segs[1])
			if !reg.HasChain(c) {
				return "", nil, "", pathErr(path, "wrong chain name for list command")
			}
			return action, nil, c, nil
		default:
			return "", nil, "", pathErr(path, "too many details for the list command")
		}
	}

	return "", nil, "", pathErr(path, "")
}

// BuildRule builds the Rule described by the path segments p (p[0] is the
// target, p[1] the chain). Segment counts and meanings beyond that vary by
// chain — see the chain-specific branches below, each grounded on the
// corresponding branch of the original path grammar.
func BuildRule(p []string, reg *rule.Registry) (*rule.Rule, error) {
	if len(p) < 2 {
		return nil, errors.New(errors.KindValidation, "not enough details to construct the rule")
	}
	target := strings.ToUpper(p[0])
	if !reg.HasTarget(target) {
		return nil, errors.Errorf(errors.KindValidation, "the action should be a known target")
	}
	chain := strings.ToUpper(p[1])
	if target != rule.TargetCreate && !reg.HasChain(chain) {
		return nil, errors.Errorf(errors.KindValidation, "when not creating one, the chain should be a known chain")
	}

	var iface1 string
	var ip1 string
	var port1 string
	var havePort1 bool
	if len(p) > 2 {
		if len(p) < 4 {
			return nil, errors.New(errors.KindValidation, "incorrect IP endpoint")
		}
		iface1 = p[2]
		if len(iface1) > 16 {
			return nil, errors.New(errors.KindValidation, "interface name too long. Max 16 characters")
		}
		iface1 = ConvertIface(iface1)

		ip, invalid, port, hasPort := iputil.ExtractEndpoint(p[3])
		if invalid || ip == "" || (hasPort && port == "") {
			return nil, errors.New(errors.KindValidation, "incorrect IP endpoint")
		}
		ip1, port1, havePort1 = ip, port, hasPort
	}

	var mask1, iface2, ip2, mask2 string
	var port2 string
	var havePort2 bool
	extra := ""
	prot := "all"

	if len(p) > 4 {
		i := 4
		if isDigits(p[i]) {
			if iputil.ValidateMaskLimit(p[i]) {
				mask1 = p[i]
				i++
			} else {
				return nil, errors.New(errors.KindValidation, "netmask must be in range from 9 to 32")
			}
		}
		if len(p) > i {
			iface2 = p[i]
			i++
			if len(iface2) > 16 {
				return nil, errors.New(errors.KindValidation, "interface name too long. Max 16 characters")
			}
			iface2 = ConvertIface(iface2)
			if len(p) > i {
				ip, invalid, port, hasPort := iputil.ExtractEndpoint(p[i])
				i++
				if invalid || ip == "" || (hasPort && port == "") {
					return nil, errors.New(errors.KindValidation, "incorrect IP endpoint or netmask")
				}
				ip2, port2, havePort2 = ip, port, hasPort
				if len(p) > i {
					if iputil.ValidateMaskLimit(p[i]) {
						mask2 = p[i]
					} else {
						return nil, errors.New(errors.KindValidation, "incorrect netmask value")
					}
				}
			}
		}
	}

	switch chain {
	case rule.ChainInput, rule.ChainOutput:
		if len(p) > 5 {
			return nil, errors.Errorf(errors.KindValidation, "too many details for the %s chain", chain)
		}
		if len(p) > 4 && mask1 == "" {
			return nil, errors.New(errors.KindValidation, "incorrect netmask value")
		}
	case rule.ChainForward:
		if len(p) > 8 {
			return nil, errors.Errorf(errors.KindValidation, "too many details for the %s chain", chain)
		}
		if len(p) > 7 && (mask1 == "" || mask2 == "") {
			return nil, errors.New(errors.KindValidation, "incorrect netmask value")
		}
		if len(p) > 6 && mask1 == "" && mask2 == "" {
			return nil, errors.New(errors.KindValidation, "incorrect netmask value")
		}
	}

	var inp, out, source, destination string

	switch {
	case chain == rule.ChainInput:
		inp = iface1
		out = "*"
		source = ip1
		if mask1 != "" {
			source = source + "/" + mask1
		}
		destination = rule.DefaultAddress
		if havePort1 {
			extra = withTCP(extra) + " spt:" + port1
			prot = "tcp"
		}
	case chain == rule.ChainOutput:
		inp = "*"
		out = iface1
		source = rule.DefaultAddress
		destination = ip1
		if mask1 != "" {
			destination = destination + "/" + mask1
		}
		if havePort1 {
			extra = withTCP(extra) + " dpt:" + port1
			prot = "tcp"
		}
	case chain == rule.ChainForward:
		inp = iface1
		if iface2 != "" {
			out = iface2
		} else {
			out = "*"
		}
		source = ip1
		if mask1 != "" {
			source = ip1 + "/" + mask1
		}
		destination = rule.DefaultAddress
		if ip2 != "" {
			destination = ip2
		}
		if mask2 != "" {
			destination = destination + "/" + mask2
		}
		if havePort1 {
			extra = withTCP(extra) + " spt:" + port1
			prot = "tcp"
		}
		if havePort2 {
			extra = withTCP(extra) + " dpt:" + port2
			prot = "tcp"
		}
	case target == rule.TargetCreate:
		inp = iface1
		out = iface1
		source = rule.DefaultAddress
		destination = rule.DefaultAddress
	default:
		inp = iface1
		if iface2 != "" {
			out = iface2
		} else {
			out = "*"
		}
		source = ip1
		destination = rule.DefaultAddress
		if ip2 != "" {
			destination = ip2
		}
		if mask1 != "" {
			source = source + "/" + mask1
		}
		if mask2 != "" {
			destination = destination + "/" + mask2
		}
		if havePort1 {
			extra = withTCP(extra) + " spt:" + port1
			prot = "tcp"
		}
		if havePort2 {
			extra = withTCP(extra) + " dpt:" + port2
			prot = "tcp"
		}
	}

	// SNAT rewrites the translation address into a `to:` extra token instead
	// of a plain destination match, then resets destination to "any" — a
	// destination clause on a SNAT rule would mean something else entirely.
	if target == rule.TargetSNAT {
		extra = strings.TrimSpace(extra + " to:" + destination)
		destination = rule.DefaultAddress
	}

	built := rule.New(rule.Rule{
		Target:      target,
		Chain:       chain,
		Prot:        prot,
		Inp:         inp,
		Out:         out,
		Source:      source,
		Destination: destination,
		Extra:       strings.TrimSpace(extra),
	})
	return &built, nil
}

func withTCP(extra string) string {
	if !strings.Contains(extra, "tcp") {
		return strings.TrimSpace("tcp " + extra)
	}
	return extra
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseCommandQuery parses the recognized query parameters: expire, wait and
// modify.
func ParseCommandQuery(rawQuery string) (Directives, error) {
	var d Directives
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return d, errors.Wrap(err, errors.KindValidation, "malformed query string")
	}

	if expire := values.Get("expire"); expire != "" {
		interval, ok := timeutil.ParseInterval(expire)
		if !ok {
			return d, errors.New(errors.KindValidation, "incorrect expire parameter value")
		}
		d.Expire = &interval
	}

	if wait := values.Get("wait"); wait != "" {
		if strings.ToLower(wait) != "true" {
			return d, errors.New(errors.KindValidation, "incorrect wait parameter value")
		}
		d.Wait = true
	}

	if modify := strings.ToLower(values.Get("modify")); modify != "" {
		if modify != "insert" && modify != "delete" {
			return d, errors.New(errors.KindValidation, "incorrect modify parameter value")
		}
		d.Modify = modify
	}

	return d, nil
}

// ParseCommand parses a full path+query URL into the action, the rule (nil
// for "help" and "list"), the chain qualifier for "list", and the directives.
func ParseCommand(rawURL string, reg *rule.Registry) (action string, r *rule.Rule, chain string, directives Directives, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, "", Directives{}, errors.Wrap(err, errors.KindValidation, "malformed URL")
	}
	action, r, chain, err = ParseCommandPath(u.Path, reg)
	if err != nil {
		return "", nil, "", Directives{}, err
	}
	directives, err = ParseCommandQuery(u.RawQuery)
	if err != nil {
		return "", nil, "", Directives{}, err
	}
	return action, r, chain, directives, nil
}
