package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/holmesengine/shepherd/bucket"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/control"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urlindex"
)

// resolveStateDir turns a SEND_MODE state name into its directory: the
// well-known aliases "current"/"closed", or a literal state name (a
// timestamp directory under root) otherwise.
func resolveStateDir(root, name string) (string, error) {
	switch name {
	case "current":
		return state.Current(root)
	case "closed":
		return state.Closed(root)
	default:
		dir := filepath.Join(root, name)
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("no such state %q", name)
		}
		return dir, nil
	}
}

// newSources wires control.Sources onto the on-disk layout so SEND_MODE
// can stream a state's raw artefacts without control/ importing urldb,
// bucket, or contrib directly (spec §8's SEND_MODE sub-protocol).
func newSources(cfg *cmn.Config) control.Sources {
	root := cfg.StateDir
	pathFor := func(fn func(string) string) func(string) (string, error) {
		return func(name string) (string, error) {
			dir, err := resolveStateDir(root, name)
			if err != nil {
				return "", err
			}
			return fn(dir), nil
		}
	}
	return control.Sources{
		IndexPath:      pathFor(indexPath),
		SitesPath:      pathFor(sitesPath),
		ParamsPath:     pathFor(planPath),
		BucketsPath:    pathFor(bucketsPath),
		URLDBPath:      pathFor(urldbPath),
		FetchBucket:    fetchBucket(root),
		AcceptFeedback: acceptFeedback(root),
	}
}

// fetchBucket answers SEND_BUCKET: it looks the footprint up in the
// state's index to find the owning oid, then fetches that bucket.
func fetchBucket(root string) func(string, [32]byte) ([]byte, error) {
	return func(name string, raw [32]byte) ([]byte, error) {
		dir, err := resolveStateDir(root, name)
		if err != nil {
			return nil, err
		}
		fp := decodeFootprint(raw)
		idx, err := urlindex.Load(indexPath(dir))
		if err != nil {
			return nil, err
		}
		rec := findRecord(idx, fp)
		if rec == nil || rec.Oid == cmn.OidUndefined {
			return nil, fmt.Errorf("no bucket for footprint")
		}
		bf, err := bucket.Open(bucketsPath(dir), bucket.OpenOpts{Writable: false})
		if err != nil {
			return nil, err
		}
		defer bf.Close()
		_, body, err := bf.Fetch(rec.Oid)
		if err != nil {
			return nil, err
		}
		return io.ReadAll(body)
	}
}

func decodeFootprint(raw [32]byte) footprint.FP {
	return footprint.FP{
		Site: footprint.SiteFP{
			binary.LittleEndian.Uint32(raw[0:4]),
			binary.LittleEndian.Uint32(raw[4:8]),
		},
		Rest: footprint.RestFP{
			binary.LittleEndian.Uint32(raw[8:12]),
			binary.LittleEndian.Uint32(raw[12:16]),
		},
	}
}

func findRecord(idx *urlindex.Index, fp footprint.FP) *urlindex.Record {
	for _, rec := range idx.Records {
		if rec.FP.Equal(fp) {
			return rec
		}
	}
	return nil
}

// acceptFeedback answers SEND_FEEDBACK: it decodes a stream of
// contrib.Entry records and appends each to the state's contribution
// log, the same artefact the merge phase reads back from (spec §4.3's
// "URLs arrive through the contribution log").
func acceptFeedback(root string) func(string, io.Reader) error {
	return func(name string, r io.Reader) error {
		dir, err := resolveStateDir(root, name)
		if err != nil {
			return err
		}
		return appendFeedbackEntries(dir, r)
	}
}
