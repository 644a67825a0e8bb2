// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/selkie-project/selkie/lib/policy"
)

// ErrNoPolicy reports an operation that requires a loaded policy
// before any policy has been loaded.
var ErrNoPolicy = errors.New("no policy loaded")

// loadedPolicy bundles a parsed policy with the exact bytes it was
// loaded from and their identifying digest.
type loadedPolicy struct {
	parsed *policy.Policy
	binary []byte
	digest policy.Digest
}

// SecurityServer owns the loaded policy, the SID table, conditional
// boolean state, and the enforcing flag. All state lives behind one
// mutex; every public method acquires it for the duration of the call
// and no lock is held across the status publisher.
type SecurityServer struct {
	mu sync.Mutex

	// sids maps allocated SIDs to their contexts. A SID absent from
	// the map was invalidated by a policy reload and resolves to the
	// unlabeled context.
	sids    map[SID]policy.SecurityContext
	nextSID SID

	policy    *loadedPolicy
	booleans  booleans
	enforcing bool

	// changeCount increments on every policy load and boolean commit.
	// External caches use it as a freshness token.
	changeCount uint32

	publisher StatusPublisher
}

// New returns a security server with no policy loaded. Until a policy
// is loaded every access computation fails open.
func New() *SecurityServer {
	return &SecurityServer{
		sids:    make(map[SID]policy.SecurityContext),
		nextSID: firstUnusedSID,
	}
}

// LoadPolicy parses, validates, and atomically installs a binary
// policy, transparently decompressing zstd and lz4 blobs. On success
// every live SID is remapped to the new policy's identifier space;
// SIDs whose contexts have no valid equivalent under the new policy
// are invalidated and resolve to the unlabeled context from then on.
// A rejected policy leaves all prior state untouched.
func (s *SecurityServer) LoadPolicy(blob []byte) error {
	raw, err := policy.Decode(blob)
	if err != nil {
		return fmt.Errorf("decoding policy blob: %w", err)
	}
	parsed, err := policy.Parse(raw)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	initial := parsed.InitialContexts()
	if _, ok := initial[uint32(SIDUnlabeled)]; !ok {
		return errors.New("loading policy: no context bound to the unlabeled initial SID")
	}

	declared := make(map[string]bool, len(parsed.Booleans()))
	for _, boolean := range parsed.Booleans() {
		declared[boolean.Name] = boolean.State
	}

	loaded := &loadedPolicy{
		parsed: parsed,
		binary: append([]byte(nil), blob...),
		digest: policy.DigestBlob(blob),
	}

	s.updateAndPublish(func() {
		// Remap live contexts into the new policy's identifier space
		// by serializing under the old policy and re-resolving under
		// the new one. Contexts the new policy cannot express are
		// dropped, which makes their SIDs resolve to unlabeled.
		if s.policy != nil {
			remapped := make(map[SID]policy.SecurityContext, len(s.sids))
			for sid, context := range s.sids {
				label := s.policy.parsed.SerializeSecurityContext(&context)
				newContext, err := parsed.ParseSecurityContext(label)
				if err != nil {
					continue
				}
				if err := parsed.ValidateSecurityContext(&newContext); err != nil {
					continue
				}
				remapped[sid] = newContext
			}
			s.sids = remapped
		}
		for sid, context := range initial {
			s.sids[SID(sid)] = context
		}
		s.booleans.reset(declared)
		s.policy = loaded
		s.changeCount++
	})
	return nil
}

// HasPolicy reports whether a policy has been loaded.
func (s *SecurityServer) HasPolicy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy != nil
}

// GetBinaryPolicy returns a copy of the last successfully loaded
// policy blob, or nil when none has been loaded.
func (s *SecurityServer) GetBinaryPolicy() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil
	}
	return append([]byte(nil), s.policy.binary...)
}

// PolicyDigest returns the digest of the loaded policy blob.
func (s *SecurityServer) PolicyDigest() (policy.Digest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return policy.Digest{}, false
	}
	return s.policy.digest, true
}

// SecurityContextToSID parses and validates a context label against
// the loaded policy and returns its SID, interning the context if it
// has not been seen before. Identical labels always map to the same
// SID.
func (s *SecurityServer) SecurityContextToSID(label string) (SID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return 0, ErrNoPolicy
	}
	context, err := s.policy.parsed.ParseSecurityContext(label)
	if err != nil {
		return 0, err
	}
	if err := s.policy.parsed.ValidateSecurityContext(&context); err != nil {
		return 0, err
	}
	return s.internLocked(context), nil
}

// SIDToSecurityContext returns the serialized context label for a
// SID. A SID invalidated by a policy reload resolves to the unlabeled
// context rather than erroring; only the absence of any policy is an
// error.
func (s *SecurityServer) SIDToSecurityContext(sid SID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return "", ErrNoPolicy
	}
	context := s.contextLocked(sid)
	return s.policy.parsed.SerializeSecurityContext(&context), nil
}

// ComputeAccessVector computes the decision for source acting on
// target as class. With no policy loaded the decision is allow-all,
// regardless of enforcing state.
func (s *SecurityServer) ComputeAccessVector(source, target SID, class policy.ClassID) policy.AccessDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return policy.AllowAll()
	}
	sourceContext := s.contextLocked(source)
	targetContext := s.contextLocked(target)
	return s.policy.parsed.ComputeExplicitlyAllowed(sourceContext.Type, targetContext.Type, class)
}

// ComputeAccessVectorByName computes the decision for a class named
// at query time. Classes the policy does not define fall back to the
// policy's handle-unknown disposition.
func (s *SecurityServer) ComputeAccessVectorByName(source, target SID, className string) policy.AccessDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return policy.AllowAll()
	}
	sourceContext := s.contextLocked(source)
	targetContext := s.contextLocked(target)
	return s.policy.parsed.ComputeExplicitlyAllowedCustom(sourceContext.Type, targetContext.Type, className)
}

// ComputeNewSID derives and interns the context of a new process-like
// object created by source over target.
func (s *SecurityServer) ComputeNewSID(source, target SID, class policy.ClassID) (SID, error) {
	return s.computeNewSID(source, target, func(p *policy.Policy, src, tgt *policy.SecurityContext) (policy.SecurityContext, error) {
		return p.NewSecurityContext(src, tgt, class)
	})
}

// ComputeNewFileSID derives and interns the context of a new
// file-like object created by source on target.
func (s *SecurityServer) ComputeNewFileSID(source, target SID, class policy.ClassID) (SID, error) {
	return s.computeNewSID(source, target, func(p *policy.Policy, src, tgt *policy.SecurityContext) (policy.SecurityContext, error) {
		return p.NewFileSecurityContext(src, tgt, class)
	})
}

// ComputeNewFileSIDByName derives and interns the context of a new
// file-like object, honoring filename transition rules for the
// object's name.
func (s *SecurityServer) ComputeNewFileSIDByName(source, target SID, class policy.ClassID, name string) (SID, error) {
	return s.computeNewSID(source, target, func(p *policy.Policy, src, tgt *policy.SecurityContext) (policy.SecurityContext, error) {
		return p.NewFileSecurityContextByName(src, tgt, class, name)
	})
}

func (s *SecurityServer) computeNewSID(source, target SID, derive func(*policy.Policy, *policy.SecurityContext, *policy.SecurityContext) (policy.SecurityContext, error)) (SID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return 0, fmt.Errorf("computing new SID: %w", ErrNoPolicy)
	}
	sourceContext := s.contextLocked(source)
	targetContext := s.contextLocked(target)
	context, err := derive(s.policy.parsed, &sourceContext, &targetContext)
	if err != nil {
		return 0, fmt.Errorf("computing new security context: %w", err)
	}
	return s.internLocked(context), nil
}

// IsBoundedBy reports whether the bounded SID's type is transitively
// bounded by the parent SID's type. False when no policy is loaded.
func (s *SecurityServer) IsBoundedBy(bounded, parent SID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return false
	}
	boundedType := s.contextLocked(bounded).Type
	parentType := s.contextLocked(parent).Type
	return s.policy.parsed.IsBoundedBy(boundedType, parentType)
}

// GenfsconSIDForFsAndPath returns the SID a genfscon statement
// assigns to a node at path on the filesystem type, or false when no
// policy is loaded or no statement matches.
func (s *SecurityServer) GenfsconSIDForFsAndPath(fsType, path string, class policy.ClassID) (SID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return 0, false
	}
	context, ok := s.policy.parsed.GenfsconLabelForFsAndPath(fsType, path, class)
	if !ok {
		return 0, false
	}
	return s.internLocked(context), true
}

// SetEnforcing switches between enforcing and permissive mode and
// pushes a status update.
func (s *SecurityServer) SetEnforcing(enforcing bool) {
	s.updateAndPublish(func() { s.enforcing = enforcing })
}

// IsEnforcing reports whether access decisions are enforced.
func (s *SecurityServer) IsEnforcing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforcing
}

// DenyUnknown reports whether unknown classes and permissions are
// denied. True until a policy is loaded.
func (s *SecurityServer) DenyUnknown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.denyUnknownLocked()
}

// RejectUnknown reports whether the loaded policy demands rejection of
// unknown classes and permissions. False until a policy is loaded.
func (s *SecurityServer) RejectUnknown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy != nil && s.policy.parsed.HandleUnknown() == policy.RejectUnknown
}

// ConditionalBooleans returns the names of the booleans declared by
// the loaded policy, sorted. Empty until a policy is loaded.
func (s *SecurityServer) ConditionalBooleans() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booleans.names()
}

// GetBoolean returns a boolean's active and pending values.
func (s *SecurityServer) GetBoolean(name string) (active, pending bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booleans.get(name)
}

// SetPendingBoolean stages a boolean value; it takes effect at the
// next commit.
func (s *SecurityServer) SetPendingBoolean(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booleans.setPending(name, value)
}

// CommitPendingBooleans atomically merges all staged boolean values
// into the active set and bumps the change count.
func (s *SecurityServer) CommitPendingBooleans() {
	s.updateAndPublish(func() {
		s.booleans.commit()
		s.changeCount++
	})
}

// ClassNames returns the names of all classes the loaded policy
// defines.
func (s *SecurityServer) ClassNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil, ErrNoPolicy
	}
	classes := s.policy.parsed.Classes()
	names := make([]string, 0, len(classes))
	for i := range classes {
		names = append(names, classes[i].Name)
	}
	return names, nil
}

// ClassIDByName returns the identifier of a named class.
func (s *SecurityServer) ClassIDByName(name string) (policy.ClassID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return 0, ErrNoPolicy
	}
	class := s.policy.parsed.ClassByName(name)
	if class == nil {
		return 0, fmt.Errorf("class %q not defined by policy", name)
	}
	return class.ID, nil
}

// ClassPermissionsByName returns the permissions of a named class,
// common symbol permissions included.
func (s *SecurityServer) ClassPermissionsByName(name string) ([]policy.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil, ErrNoPolicy
	}
	perms, ok := s.policy.parsed.ClassPermissions(name)
	if !ok {
		return nil, fmt.Errorf("class %q not defined by policy", name)
	}
	return perms, nil
}

// SetStatusPublisher registers the sink for status snapshots and
// immediately pushes the current status. At most one publisher may be
// registered per server; a second registration panics.
func (s *SecurityServer) SetStatusPublisher(publisher StatusPublisher) {
	s.updateAndPublish(func() {
		if s.publisher != nil {
			panic("server: status publisher already registered")
		}
		s.publisher = publisher
	})
}

// Query computes the access decision for an access vector cache miss.
func (s *SecurityServer) Query(source, target SID, class policy.ClassID) policy.AccessDecision {
	return s.ComputeAccessVector(source, target, class)
}

// IsPermissive reports whether denials for the source SID should be
// audited but not enforced. True in permissive mode, before any
// policy is loaded, and for permissive source types.
func (s *SecurityServer) IsPermissive(source SID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enforcing || s.policy == nil {
		return true
	}
	return s.policy.parsed.IsPermissive(s.contextLocked(source).Type)
}

// internLocked returns the SID bound to the context, allocating the
// next SID when the context has not been seen. Lookup is linear over
// live contexts; contexts are few relative to query volume.
func (s *SecurityServer) internLocked(context policy.SecurityContext) SID {
	for sid, existing := range s.sids {
		if existing.Equal(&context) {
			return sid
		}
	}
	sid := s.nextSID
	s.nextSID++
	s.sids[sid] = context
	return sid
}

// contextLocked resolves a SID to its context, falling back to the
// unlabeled context for SIDs invalidated by a reload. Callers must
// hold the lock and have checked that a policy is loaded.
func (s *SecurityServer) contextLocked(sid SID) policy.SecurityContext {
	if context, ok := s.sids[sid]; ok {
		return context
	}
	context, ok := s.sids[SIDUnlabeled]
	if !ok {
		panic("server: unlabeled initial SID missing with policy loaded")
	}
	return context
}

func (s *SecurityServer) denyUnknownLocked() bool {
	return s.policy == nil || s.policy.parsed.HandleUnknown() != policy.AllowUnknown
}

// updateAndPublish runs f under the lock, snapshots status, and then
// publishes the snapshot with the lock released.
func (s *SecurityServer) updateAndPublish(f func()) {
	s.mu.Lock()
	f()
	status := s.statusLocked()
	publisher := s.publisher
	s.mu.Unlock()
	if publisher != nil {
		publisher.PublishStatus(status)
	}
}

func (s *SecurityServer) statusLocked() Status {
	status := Status{
		IsEnforcing: s.enforcing,
		ChangeCount: s.changeCount,
		DenyUnknown: s.denyUnknownLocked(),
	}
	if s.policy != nil {
		status.PolicyDigest = s.policy.digest.String()
	}
	return status
}
