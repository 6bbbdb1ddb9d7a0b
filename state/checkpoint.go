/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package state

import (
	"path/filepath"
	"time"

	"github.com/holmesengine/shepherd/cmn/jsp"
)

// Checkpoint records how far a cycle got through dir before the last
// checkpoint, so a restarted daemon or shep-dump can tell a clean
// finish from a crash mid-phase without replaying the directory's
// control-file history (spec §4.6: "flush journal, buckets, contrib,
// and URL-DB, then append a checkpoint record").
type Checkpoint struct {
	Phase    string    `json:"phase"`
	Recorded time.Time `json:"recorded"`
}

func (Checkpoint) JspOpts() jsp.Options { return jsp.CCSign(1) }

// SaveCheckpoint writes dir's checkpoint file, signed and checksummed so
// a truncated write from a killed process is detected on the next load
// instead of silently trusted.
func SaveCheckpoint(dir string, cp Checkpoint) error {
	return jsp.SaveMeta(checkpointPath(dir), cp, nil)
}

// LoadCheckpoint reads dir's checkpoint file.
func LoadCheckpoint(dir string) (Checkpoint, error) {
	var cp Checkpoint
	_, err := jsp.LoadMeta(checkpointPath(dir), &cp)
	return cp, err
}

func checkpointPath(dir string) string {
	return filepath.Join(dir, CheckpointFile)
}
