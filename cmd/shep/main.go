// Package main is the shepherd daemon: the master rungroup driving a
// root of state directories through one cycle after another (spec
// §4.13), grounded on cmd/aisnodeprofile/main.go's flag/profile/exit-code
// shape.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"math/rand"
	"os"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/control"
	"github.com/holmesengine/shepherd/mailer"
	"github.com/holmesengine/shepherd/master"
	"github.com/holmesengine/shepherd/metrics"
)

var (
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to `file`")
	memProfile = flag.String("memprofile", "", "write memory profile to `file`")

	keep       = flag.Bool("keep", false, "stop after one full cycle")
	locked     = flag.Bool("locked", false, "accepted but has no effect")
	idle       = flag.Bool("idle", false, "hold at closed until explicitly resumed")
	private    = flag.Bool("private", false, "skip the feedback phase's external collaborator hooks")
	reapOnly   = flag.Bool("reap", false, "accepted but has no effect")
	cleanupRun = flag.Bool("cleanup", false, "initial value of the control-protocol cleanup toggle; no phase reads it")
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath, overrides := cmn.RegisterCommonFlags(flag.CommandLine)
	flag.Parse()

	if s := *cpuProfile; s != "" {
		*cpuProfile = s + "." + strconv.Itoa(syscall.Getpid())
		f, err := os.Create(*cpuProfile)
		if err != nil {
			glog.Errorf("shep: couldn't create cpu profile: %v", err)
			return 1
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			glog.Errorf("shep: couldn't start cpu profile: %v", err)
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := cmn.LoadFile(*configPath, *overrides)
	if err != nil {
		glog.Errorf("shep: config: %v", err)
		return 1
	}

	exitCode := runDaemon(cfg)

	if s := *memProfile; s != "" {
		*memProfile = s + "." + strconv.Itoa(syscall.Getpid())
		f, err := os.Create(*memProfile)
		if err == nil {
			defer f.Close()
			_ = pprof.WriteHeapProfile(f)
		}
	}
	return exitCode
}

// runDaemon wires up the control server, metrics endpoint, phase
// sequencer, and master rungroup, then blocks on Master.Serve.
func runDaemon(cfg *cmn.Config) int {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		glog.Errorf("shep: create state dir %s: %v", cfg.StateDir, err)
		return 1
	}

	auth, err := control.NewIPAuthorizer(cfg.Control.AllowedCIDRs)
	if err != nil {
		glog.Errorf("shep: %v", err)
		return 1
	}

	flags := newDaemonFlags(*cleanupRun, *idle, *private, false)
	ctl := control.NewServer(auth, flags, cfg.Control.BorrowSecret, cfg.Control.BorrowTokenTTL)
	ctl.Sources = newSources(cfg)

	mcol := metrics.New()
	var metricsSrv *metrics.Server
	if cfg.Stats.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(mcol, cfg.Stats.MetricsAddr)
	}

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.Mail.SMTPAddr != "" {
		mail = mailer.NewSMTPMailer(cfg.Mail)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	seq := &master.Sequencer{
		Root: cfg.StateDir,
		Preds: master.Predicates{
			Keep:    *keep,
			Locked:  *locked,
			Idle:    *idle,
			Private: *private,
			Reap:    *reapOnly,
			Cleanup: *cleanupRun,
		},
		Metrics: mcol,
	}
	seq.Run = newPhaseRunner(cfg, flags, mcol, rng).runPhase

	m := master.New(cfg.StateDir, cfg, ctl, seq, mail)
	m.Metrics = metricsSrv

	if err := m.Serve(); err != nil {
		glog.Errorf("shep: %v", err)
		return 1
	}
	return 0
}
