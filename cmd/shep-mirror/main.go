// Package main for shep-mirror, a tool that pulls one named state off
// a running daemon's SEND_MODE sub-protocol and writes its artefacts
// into a local directory, the way an offline analysis or backup
// collaborator would without ever locking the daemon's state tree for
// longer than the copy takes.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holmesengine/shepherd/ctlclient"
)

var (
	addr  = flag.String("addr", "127.0.0.1:8187", "daemon control address, host:port")
	state = flag.String("state", "current", "state to mirror: \"current\", \"closed\", or a literal state name")
	out   = flag.String("out", "", "local directory to write the mirrored artefacts into")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *out == "" {
		fmt.Fprintln(os.Stderr, "shep-mirror: -out is required")
		return 1
	}
	if err := mirror(*addr, *state, *out); err != nil {
		fmt.Fprintf(os.Stderr, "shep-mirror: %v\n", err)
		return 1
	}
	return 0
}

func mirror(addr, state, out string) error {
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	cl, err := ctlclient.Dial(addr, 10*time.Second)
	if err != nil {
		return err
	}
	defer cl.Close()

	sess, err := cl.SendMode(state)
	if err != nil {
		return err
	}
	defer sess.Close()

	streams := []struct {
		name string
		fn   func(*ctlclient.SendSession, *os.File) error
	}{
		{"index.dat", func(s *ctlclient.SendSession, f *os.File) error { return s.StreamIndex(f) }},
		{"sites.dat", func(s *ctlclient.SendSession, f *os.File) error { return s.StreamSites(f) }},
		{"plan.dat", func(s *ctlclient.SendSession, f *os.File) error { return s.StreamParams(f) }},
		{"buckets", func(s *ctlclient.SendSession, f *os.File) error { return s.StreamBuckets(f) }},
		{"urldb.journal", func(s *ctlclient.SendSession, f *os.File) error { return s.StreamURLs(0, f) }},
	}
	for _, st := range streams {
		if err := mirrorOne(sess, filepath.Join(out, st.name), st.fn); err != nil {
			return fmt.Errorf("mirror %s: %w", st.name, err)
		}
	}
	return nil
}

func mirrorOne(sess *ctlclient.SendSession, path string, fn func(*ctlclient.SendSession, *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(sess, f)
}
