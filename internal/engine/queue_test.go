// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"testing"
	"time"

	"grimm.is/rfw/internal/rule"
)

func TestCommandQueueFIFO(t *testing.T) {
	q := newCommandQueue()
	q.Put(Command{Modify: 'I'})
	q.Put(Command{Modify: 'D'})

	first, ok := q.Get()
	if !ok || first.Modify != 'I' {
		t.Fatalf("expected first command to be 'I', got %+v ok=%v", first, ok)
	}
	second, ok := q.Get()
	if !ok || second.Modify != 'D' {
		t.Fatalf("expected second command to be 'D', got %+v ok=%v", second, ok)
	}
}

func TestCommandQueueGetBlocksUntilPut(t *testing.T) {
	q := newCommandQueue()
	done := make(chan Command, 1)
	go func() {
		cmd, ok := q.Get()
		if ok {
			done <- cmd
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(Command{Modify: 'L'})

	select {
	case cmd := <-done:
		if cmd.Modify != 'L' {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Put")
	}
}

func TestCommandQueueCloseUnblocksGet(t *testing.T) {
	q := newCommandQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Get to report closed queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Get never returned after Close")
	}
}

func TestExpiryQueueOrdersBySoonest(t *testing.T) {
	q := newExpiryQueue()
	now := time.Now()
	q.Schedule(expiryItem{tstamp: now.Add(10 * time.Second), rule: rule.Rule{Chain: "LATER"}})
	q.Schedule(expiryItem{tstamp: now.Add(1 * time.Second), rule: rule.Rule{Chain: "SOONER"}})

	item, ok := q.Peek()
	if !ok || item.rule.Chain != "SOONER" {
		t.Fatalf("expected SOONER to be peeked first, got %+v", item)
	}

	popped, ok := q.Pop()
	if !ok || popped.rule.Chain != "SOONER" {
		t.Fatalf("expected SOONER to be popped first, got %+v", popped)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one item left, got %d", q.Len())
	}
}
