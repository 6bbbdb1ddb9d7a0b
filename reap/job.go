/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reap

import (
	"github.com/holmesengine/shepherd/cmn"
)

// Job is one fetch task handed to a prefetch worker: download Entry's oid
// out of qs's plan window and feed the result back through Outcome.
type Job struct {
	Qsite *Qsite
	Oid   uint32
	Retry uint16
}

// Outcome is what a worker reports back to the main loop after attempting
// Job (spec §4.6: 5-way error classification drives retry/backoff/site
// rejection decisions).
type Outcome struct {
	Job      Job
	Class    int // cmn.ErrNone .. cmn.ErrPerm
	NewSkey  uint32
	HTTPCode int
	Err      error
}

// Classify maps a raw fetch error into the spec's 5-way bucket. httpCode
// is 0 when the error happened before a response was received (dial/
// timeout/reset): those count as TEMP_CONNECTION unless the site itself
// looks down (ECONNREFUSED repeated past SiteErrRetry, which the caller
// tracks via ConnErrCount and passes as siteDown).
func Classify(err error, httpCode int, siteDown bool) int {
	switch {
	case err == nil && httpCode == 0:
		return cmn.ErrNone
	case httpCode >= 500 && httpCode < 600:
		return cmn.ErrTempRequest
	case httpCode == 429:
		return cmn.ErrTempRequest
	case httpCode >= 400 && httpCode < 500:
		return cmn.ErrPerm
	case err != nil && siteDown:
		return cmn.ErrTempSite
	case err != nil:
		return cmn.ErrTempConnection
	default:
		return cmn.ErrNone
	}
}

// applyOutcome folds a worker's Outcome into the owning qsite/site state
// (spec §4.6: temp errors bump retry_count and reschedule within the same
// cycle up to ReqErrRetry/SiteErrRetry, perm errors and proxy failures are
// terminal for that entry this cycle).
func applyOutcome(qs *Qsite, o Outcome, cfg *cmn.Config) {
	switch o.Class {
	case cmn.ErrNone:
		qs.Site.ConnErrCount = 0
	case cmn.ErrTempRequest:
		// caller retries the same oid up to cfg.Timeout.ReqErrRetry times;
		// bookkeeping lives in the url_state record, not here.
	case cmn.ErrTempConnection:
		qs.Site.ConnErrCount++
	case cmn.ErrTempSite:
		qs.Site.ConnErrCount++
		if qs.Site.ConnErrCount >= cfg.Timeout.SiteErrRetry {
			qs.Site.SiteErrDeferred = true
		}
	case cmn.ErrTempProxy:
		// proxy-level failure: defer the whole site this cycle, same as
		// TEMP_SITE past the retry budget, but without penalizing the
		// site's own error count.
		qs.Site.SiteErrDeferred = true
	case cmn.ErrPerm:
		// permanent per-URL failure: the entry is consumed and not retried
		// this cycle; site-level counters are untouched.
	}
	if o.NewSkey != 0 {
		qs.NewSkey = o.NewSkey
	}
}
