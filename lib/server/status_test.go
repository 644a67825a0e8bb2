// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/selkie-project/selkie/lib/codec"
	"github.com/selkie-project/selkie/lib/server"
)

// capturePublisher records every snapshot pushed to it.
type capturePublisher struct {
	snapshots []server.Status
}

func (p *capturePublisher) PublishStatus(status server.Status) {
	p.snapshots = append(p.snapshots, status)
}

func TestStatusPushedOnMutations(t *testing.T) {
	s := server.New()
	publisher := &capturePublisher{}
	s.SetStatusPublisher(publisher)

	// Registration itself pushes the initial snapshot.
	if len(publisher.snapshots) != 1 {
		t.Fatalf("snapshots after registration = %d, want 1", len(publisher.snapshots))
	}
	initial := publisher.snapshots[0]
	if initial.IsEnforcing || initial.ChangeCount != 0 || !initial.DenyUnknown || initial.PolicyDigest != "" {
		t.Errorf("initial status = %+v", initial)
	}

	if err := s.LoadPolicy(testPolicy()); err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	s.SetEnforcing(true)
	s.CommitPendingBooleans()

	if len(publisher.snapshots) != 4 {
		t.Fatalf("snapshots = %d, want 4 (register, load, enforce, commit)", len(publisher.snapshots))
	}
	afterLoad := publisher.snapshots[1]
	if afterLoad.ChangeCount != 1 || afterLoad.PolicyDigest == "" {
		t.Errorf("status after load = %+v", afterLoad)
	}
	afterEnforce := publisher.snapshots[2]
	if !afterEnforce.IsEnforcing || afterEnforce.ChangeCount != 1 {
		t.Errorf("status after enforce = %+v", afterEnforce)
	}
	afterCommit := publisher.snapshots[3]
	if afterCommit.ChangeCount != 2 {
		t.Errorf("status after commit = %+v", afterCommit)
	}
}

func TestSetStatusPublisherTwicePanics(t *testing.T) {
	s := server.New()
	s.SetStatusPublisher(&capturePublisher{})

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic")
		}
	}()
	s.SetStatusPublisher(&capturePublisher{})
}

func TestStreamPublisherEncodesSnapshots(t *testing.T) {
	var buf bytes.Buffer
	publisher := server.NewStreamPublisher(&buf)

	s := server.New()
	s.SetStatusPublisher(publisher)
	if err := s.LoadPolicy(testPolicy()); err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if err := publisher.Err(); err != nil {
		t.Fatalf("publisher error: %v", err)
	}

	decoder := codec.NewDecoder(&buf)
	var snapshots []server.Status
	for {
		var status server.Status
		if err := decoder.Decode(&status); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decoding snapshot: %v", err)
		}
		snapshots = append(snapshots, status)
	}
	if len(snapshots) != 2 {
		t.Fatalf("decoded %d snapshots, want 2", len(snapshots))
	}
	if snapshots[1].ChangeCount != 1 || snapshots[1].PolicyDigest == "" {
		t.Errorf("post-load snapshot = %+v", snapshots[1])
	}
}
