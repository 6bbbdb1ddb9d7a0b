//go:build !debug

// Package debug provides cheap, compiled-out-by-default invariant checks.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package debug

const Enabled = false

func Assert(_ bool, _ ...interface{})            {}
func Assertf(_ bool, _ string, _ ...interface{}) {}
func AssertNoErr(_ error)                        {}
