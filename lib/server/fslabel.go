// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/selkie-project/selkie/lib/policy"
)

// rootPath is the node path used when a genfscon statement labels a
// whole filesystem.
const rootPath = "/"

// LabelingScheme tells callers how nodes on a mounted filesystem
// acquire their labels.
type LabelingScheme int

const (
	// SchemeMountpoint labels the filesystem and every node on it
	// with a single context fixed at mount time.
	SchemeMountpoint LabelingScheme = iota + 1
	// SchemeFsUse labels nodes per the fs_use statement's type:
	// from extended attributes, by type transition, or from the
	// creating task.
	SchemeFsUse
	// SchemeGenfscon labels nodes from genfscon path prefixes.
	SchemeGenfscon
)

func (s LabelingScheme) String() string {
	switch s {
	case SchemeMountpoint:
		return "mountpoint"
	case SchemeFsUse:
		return "fs_use"
	case SchemeGenfscon:
		return "genfscon"
	}
	return "unknown"
}

// MountOptions carries the security-relevant mount options. An empty
// string means the option was not supplied.
type MountOptions struct {
	// Context labels the filesystem and all nodes, read-only.
	Context string
	// FsContext overrides the filesystem's own label without
	// affecting node labeling.
	FsContext string
	// DefContext is the default label for unlabeled nodes under
	// xattr labeling.
	DefContext string
	// RootContext overrides the root node's label.
	RootContext string
}

// FileSystemLabel is the labeling decision for one mounted
// filesystem. DefaultSID and RootSID are meaningful only under
// SchemeFsUse.
type FileSystemLabel struct {
	SID        SID
	Scheme     LabelingScheme
	FsUseType  policy.FsUseType
	DefaultSID SID
	RootSID    SID
}

// ResolveFsLabel determines how a mounted filesystem and its nodes
// are labeled. Precedence: an explicit context mount option wins
// outright; then a policy fs_use statement for the filesystem type,
// with fscontext/defcontext/rootcontext overrides applied; then a
// genfscon statement matching the root path; and finally xattr
// labeling rooted at the File initial SID.
func (s *SecurityServer) ResolveFsLabel(fsType string, options MountOptions) (FileSystemLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return FileSystemLabel{}, ErrNoPolicy
	}

	mountpointSID, haveMountpoint := s.sidFromMountOptionLocked(options.Context)
	fsSID, haveFs := s.sidFromMountOptionLocked(options.FsContext)
	defSID, haveDef := s.sidFromMountOptionLocked(options.DefContext)
	rootSID, haveRoot := s.sidFromMountOptionLocked(options.RootContext)

	if haveMountpoint {
		return FileSystemLabel{SID: mountpointSID, Scheme: SchemeMountpoint}, nil
	}

	if useType, context, ok := s.policy.parsed.FsUseLabelAndType(fsType); ok {
		sid := s.internLocked(context)
		if haveFs {
			sid = fsSID
		}
		label := FileSystemLabel{
			SID:        sid,
			Scheme:     SchemeFsUse,
			FsUseType:  useType,
			DefaultSID: SIDFile,
			RootSID:    sid,
		}
		if haveDef {
			label.DefaultSID = defSID
		}
		if haveRoot {
			label.RootSID = rootSID
		}
		return label, nil
	}

	if context, ok := s.policy.parsed.GenfsconLabelForFsAndPath(fsType, rootPath, 0); ok {
		sid := s.internLocked(context)
		if haveFs {
			sid = fsSID
		}
		return FileSystemLabel{SID: sid, Scheme: SchemeGenfscon}, nil
	}

	// Unrecognized filesystem type: xattr labeling rooted at the
	// File initial SID.
	label := FileSystemLabel{
		SID:        SIDFile,
		Scheme:     SchemeFsUse,
		FsUseType:  policy.FsUseXattr,
		DefaultSID: SIDFile,
		RootSID:    SIDFile,
	}
	if haveFs {
		label.SID = fsSID
	}
	if haveDef {
		label.DefaultSID = defSID
	}
	if haveRoot {
		label.RootSID = rootSID
	}
	return label, nil
}

// sidFromMountOptionLocked resolves one context-valued mount option.
// A present-but-unparseable option resolves to the unlabeled SID
// rather than failing the mount decision.
func (s *SecurityServer) sidFromMountOptionLocked(option string) (SID, bool) {
	if option == "" {
		return 0, false
	}
	context, err := s.policy.parsed.ParseSecurityContext(option)
	if err != nil {
		return SIDUnlabeled, true
	}
	return s.internLocked(context), true
}
