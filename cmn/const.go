// Package cmn provides shared constants, configuration, and utilities used
// across every Shepherd component.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "time"

// Phase names, in cycle order (spec §2).
const (
	PhaseClosed   = "closed"
	PhasePrepare  = "prepare"
	PhasePlan     = "plan"
	PhaseReap     = "reap"
	PhaseCork     = "cork"
	PhaseCorked   = "corked"
	PhaseMerge    = "merge"
	PhaseFeedback = "feedback"
	PhaseEquiv    = "equiv"
	PhaseSelect   = "select"
	PhaseRecord   = "record"
	PhaseSort     = "sort"
	PhaseFinish   = "finish"

	PhaseRecover  = "recover"
	PhaseRollback = "rollback"
	PhaseCleanup  = "cleanup"
	PhaseBorrowed = "borrowed"
)

// CyclePhases is the normal (non-recovery) phase sequence.
var CyclePhases = []string{
	PhaseClosed, PhasePrepare, PhasePlan, PhaseReap, PhaseCork, PhaseCorked,
	PhaseMerge, PhaseFeedback, PhaseEquiv, PhaseSelect, PhaseRecord,
	PhaseSort, PhaseFinish,
}

// url_state.flags (spec §3.2).
const (
	USFInit = 1 << iota
	USFRobots
	USFUnref
	USFNeededByEQ
	USFRegather
	USFContrib
	USFTrueWeight
	USFSelectPriority
)

const (
	Sacred      = USFInit | USFRobots | USFNeededByEQ
	Sacrisimmus = USFInit | USFRobots
)

// url_state.type (spec §3.2).
const (
	TypeSleeping = iota
	TypeNew
	TypeOK
	TypeError
	TypeSkey
	TypeTempError
	TypeZombie

	TypeNoTargetBit = 1 << 7
)

// oid sentinels (spec §3.2, §3.8).
const (
	OidUndefined uint32 = 0
	OidDeleted   uint32 = 0xffffffff
	OidError     uint32 = 0xfffffffe
)

// Reserved skey ranges (spec §3.3).
const (
	SkeyUnresolvedPrefix  uint32 = 0x0000_0000
	SkeyUnresolvedMask    uint32 = 0xffff_0000
	SkeyNonexistentPrefix uint32 = 0x7f02_0000
	SkeyNonexistentMask   uint32 = 0xffff_0000
	SkeyNonIPPrefix       uint32 = 0x7f01_0000
	SkeyNonIPMask         uint32 = 0xffff_0000
)

// Plan entry / journal flags (spec §3.5).
const (
	PlanRefresh = 1 << iota
	PlanSynthRobots
	PlanAnticipated
	PlanOverAged
	PlanRobots
	PlanSacrisimmus
)

// Select-stage actions and causes (spec §4.9).
const (
	ActionOK = iota
	ActionSleep
	ActionDiscard
)

const (
	CausePerf = iota
	CauseSite
	CauseQkey
	CauseSection
	CauseSpace
	CauseArea
	CauseNone
)

// Reaper job error classification (spec §4.6).
const (
	ErrNone = iota
	ErrTempRequest
	ErrTempConnection
	ErrTempSite
	ErrTempProxy
	ErrPerm
)

// Qnode/qsite states (spec §4.6).
const (
	QStateIdle = iota
	QStateActive
	QStateWaiting
	QStateReady
)

// Control protocol constants (spec §4.12/§6.1).
const (
	WireLeader   uint32 = 0x27182818
	WireHeaderSz        = 16

	PayloadNone  = 0
	PayloadRaw   = 1
	PayloadAttrs = 2

	ProtocolVersion = "V330"

	DefaultPort = 8187
)

// Control-protocol command codes, carried in the header's cmd field
// (spec §4.12).
const (
	CmdPing = iota
	CmdSetCleanup
	CmdSetIdle
	CmdSetPrivate
	CmdSetDeleteOld
	CmdLockState
	CmdBorrowState
	CmdBorrowStateQ
	CmdReturnState
	CmdRollbackState
	CmdUnlockStates
	CmdSendMode

	// Sub-commands valid only inside SEND_MODE.
	CmdSendBuckets
	CmdSendRawBuckets
	CmdSendRawIndex
	CmdSendRawSites
	CmdSendRawParams
	CmdSendURLs
	CmdSendBucket
	CmdSendFeedback
)

// Control-protocol reply codes (spec §4.12).
const (
	ReplyOK = iota
	ReplyUnknownReq
	ReplyNotAuthorized
	ReplyWelcome
	ReplyPong
	ReplySendMode
	ReplyDefer
	ReplyDataBlock
	ReplyDataEnd
	ReplyInProgress
	ReplyNoBorrowed
	ReplyReturningBad
	ReplyNoSuchState
)

// Bucket file magics (spec §6.3).
const (
	BucketMagicHeader     uint32 = 0xdeadf00d
	BucketMagicIncomplete uint32 = 0xdeadfee1
	BucketMagicTrailer    uint32 = 0xfeedcafe
)

// State-directory file magics (spec §6.2).
const (
	ParamsMagic    uint32 = 0xaa8a9b55
	ParamsVersion  uint16 = 0x3b00
	SitesMagic     uint32 = 0xb4b6b293
	URLDBMagic     uint32 = 0x9a2736ab
	URLDBVersion   uint16 = 0x3b00
	ParamsFlagSort uint32 = 1 // "SORTED" bit
)

// Default tunables (spec Glossary / original_source config.c defaults).
const (
	DefaultReapCycle           = 6 * time.Hour
	DefaultStdServerDelay      = 10 * time.Second
	DefaultMinServerDelay      = 2 * time.Second
	DefaultAutoreplyDelay      = 30 * time.Second
	DefaultServerOvertake      = 0
	DefaultReqErrRetry         = 3
	DefaultSiteErrRetry        = 3
	DefaultConnErrDelay        = 60 * time.Second
	DefaultContribCacheSize    = 16 << 20 // 16MB
	DefaultSelectHysteresis    = 1000
	DefaultStableTimeUnit      = time.Hour
	DefaultMinRobotsFrequency  = 24
	DefaultMinEQFrequency      = 12
	DefaultMaxErrFrequency     = 4
	DefaultSafetyBrakeLimit    = 100_000
	DefaultZombieExpire        = 30 * 24 * time.Hour
	DefaultRedirectZombieTTL   = 7 * 24 * time.Hour
	DefaultMaxResolvers        = 64
	DefaultMaxFlushers         = 16
	DefaultCheckpointPeriod    = 60 * time.Second
	DefaultBucketWatchPeriod   = 30 * time.Second
	DefaultMinFreeSpace        = 1 << 30 // 1GiB
	DefaultMinBucketReserve    = 64 << 20
	DefaultMaxBucketFileSize   = 2 << 30
	DefaultReapOptimismFactor  = 1.3
	DefaultAnticipatedRefAgeN  = 3 // denominator in anticipated_refresh_age / (freq/3)
)
