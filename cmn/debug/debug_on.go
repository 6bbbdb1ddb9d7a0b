//go:build debug

// Package debug provides cheap, compiled-out-by-default invariant checks.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

const Enabled = true

func Assert(cond bool, args ...interface{}) {
	if cond {
		return
	}
	msg := "assertion failed"
	if len(args) > 0 {
		msg = fmt.Sprint(args...)
	}
	glog.Fatalln(msg)
}

func Assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	glog.Fatalf(format, args...)
}

func AssertNoErr(err error) {
	if err == nil {
		return
	}
	glog.Fatalf("unexpected error: %v", err)
}
