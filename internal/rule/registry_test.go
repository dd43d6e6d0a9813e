// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

import "testing"

func TestNewRegistrySeedsBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, c := range []string{ChainInput, ChainOutput, ChainForward, ChainPostrouting} {
		if !r.HasChain(c) {
			t.Errorf("expected built-in chain %s to be registered", c)
		}
	}
	for _, tgt := range []string{TargetDrop, TargetAccept, TargetReject, TargetCreate, TargetSNAT} {
		if !r.HasTarget(tgt) {
			t.Errorf("expected built-in target %s to be registered", tgt)
		}
	}
}

func TestAddChainRegistersBothChainAndTarget(t *testing.T) {
	r := NewRegistry()
	r.AddChain("MYCHAIN")
	if !r.HasChain("MYCHAIN") || !r.HasTarget("MYCHAIN") {
		t.Fatalf("expected AddChain to register both chain and target")
	}
}

func TestRenameChainMovesChainAndRegistersComposite(t *testing.T) {
	r := NewRegistry()
	r.AddChain("OLD")
	r.RenameChain("OLD", "NEW", "OLD:NEW")
	if r.HasChain("OLD") {
		t.Fatalf("expected OLD to no longer be a registered chain")
	}
	if !r.HasChain("NEW") {
		t.Fatalf("expected NEW to be a registered chain")
	}
	if !r.HasTarget("OLD:NEW") {
		t.Fatalf("expected composite rename target to be registered")
	}
}

func TestRemoveChainClearsBothMaps(t *testing.T) {
	r := NewRegistry()
	r.AddChain("TEMP")
	r.RemoveChain("TEMP")
	if r.HasChain("TEMP") || r.HasTarget("TEMP") {
		t.Fatalf("expected TEMP to be fully unregistered")
	}
}
