/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn/jsp"
	jsoniter "github.com/json-iterator/go"
)

type (
	// RefreshSchema maps a site's stable_time into a refresh-frequency
	// ceiling index (spec §4.9 step 3), per `original_source` refresh_schema.
	RefreshSchema struct {
		Num              int       `json:"num"`
		Frequencies      []int     `json:"frequencies"`
		Allocations      []float64 `json:"allocations"`
		FrequentFactor   float64   `json:"frequent_factor"`
	}

	SectionConfig struct {
		Section     int     `json:"section"`
		PlanLimit   float64 `json:"plan_limit"`
		SelectBonus int     `json:"select_bonus"`
	}

	TimeoutConfig struct {
		ReapCycle      time.Duration `json:"reap_cycle"`
		NullCycle      time.Duration `json:"null_cycle"`
		StdServerDelay time.Duration `json:"std_server_delay"`
		MinServerDelay time.Duration `json:"min_server_delay"`
		AutoreplyDelay time.Duration `json:"autoreply_delay"`
		ConnErrDelay   time.Duration `json:"conn_err_delay"`
		ServerOvertake time.Duration `json:"server_overtake"`
		CheckpointPeriod time.Duration `json:"checkpoint_period"`
		BucketWatchPeriod time.Duration `json:"bucket_watch_period"`
	}

	LimitsConfig struct {
		DefaultSoftLimit  int     `json:"default_soft_limit"`
		DeadSoftLimit     int     `json:"dead_soft_limit"`
		DefaultFreshLimit int     `json:"default_fresh_limit"`
		HardLimitFactor   float64 `json:"hard_limit_factor"`
		SafetyBrakeLimit  int     `json:"safety_brake_limit"`
		SelectHysteresis  int     `json:"select_hysteresis"`
	}

	ReapConfig struct {
		ReqErrRetry          int     `json:"req_err_retry"`
		SiteErrRetry         int     `json:"site_err_retry"`
		SiteErrExpire         time.Duration `json:"site_err_expire"`
		MaxResolvers         int     `json:"max_resolvers"`
		MaxFlushers          int     `json:"max_flushers"`
		ContribGap           int     `json:"contrib_gap"`
		IgnoreRefs           bool    `json:"ignore_refs"`
		PrefetchThreads      int     `json:"prefetch_threads"`
		EstimatedRawPerf     float64 `json:"estimated_raw_performance"`
		ReapOptimismFactor   float64 `json:"reap_optimism_factor"`
		ReapSlowdownFactor   float64 `json:"reap_slowdown_factor"`
		DutyFactor           float64 `json:"duty_factor"`
	}

	ContribConfig struct {
		CacheSize      int64 `json:"contrib_cache_size"`
		AutoGoRoot     bool  `json:"auto_go_root"`
		DefaultWeight  int   `json:"default_insert_weight"`
		TraceRefs      bool  `json:"trace_refs"`
	}

	RefreshConfig struct {
		StableTimeUnit      time.Duration            `json:"stable_time_unit"`
		MinRobotsFrequency  int                      `json:"min_robots_frequency"`
		MinEQFrequency      int                      `json:"min_eq_frequency"`
		MaxErrFrequency     int                      `json:"max_err_frequency"`
		AnticipatedRefAge   time.Duration            `json:"anticipated_refresh_age"`
		Schemas             map[string]RefreshSchema `json:"schemas"`
		GlobalFrequentFactor float64                 `json:"global_frequent_factor"`
	}

	ZombieConfig struct {
		Expire                  time.Duration `json:"zombie_expire"`
		RedirectToZombieTimeout time.Duration `json:"redirect_to_zombie_timeout"`
	}

	DiskConfig struct {
		MinFreeSpace      int64 `json:"min_free_space"`
		MinBucketReserve  int64 `json:"min_bucket_reserve"`
		MaxBucketFileSize int64 `json:"max_bucket_file_size"`
	}

	MailConfig struct {
		SMTPAddr    string `json:"smtp_addr"`
		ProgressTo  string `json:"progress_mail"`
		ErrorTo     string `json:"error_mail"`
		From        string `json:"from"`
	}

	ControlConfig struct {
		Port            int           `json:"port"`
		AllowedCIDRs    []string      `json:"allowed_cidrs"`
		BorrowTokenTTL  time.Duration `json:"borrow_token_ttl"`
		BorrowSecret    string        `json:"borrow_secret"`
	}

	StatsConfig struct {
		PlannerStats bool `json:"planner_stats"`
		SelectStats  bool `json:"select_stats"`
		MetricsAddr  string `json:"metrics_addr"`
	}

	// Config is the whole-daemon configuration, loaded once at startup and
	// swapped atomically thereafter (mirrors the teacher's globalConfigOwner).
	Config struct {
		StateDir string        `json:"state_dir"`
		DBDir    string        `json:"db_dir"`
		FilterName string      `json:"shepherd_filter_name"`

		Timeout TimeoutConfig `json:"timeout"`
		Limits  LimitsConfig  `json:"limits"`
		Reap    ReapConfig    `json:"reap"`
		Contrib ContribConfig `json:"contrib"`
		Refresh RefreshConfig `json:"refresh"`
		Zombie  ZombieConfig  `json:"zombie"`
		Disk    DiskConfig    `json:"disk"`
		Mail    MailConfig    `json:"mail"`
		Control ControlConfig `json:"control"`
		Stats   StatsConfig   `json:"stats"`

		Sections []SectionConfig `json:"sections"`
	}
)

func (c *Config) JspOpts() jsp.Options { return jsp.CCSign(1) }

// Default returns a Config populated with the defaults named throughout
// spec.md's Glossary and original_source's config.c.
func Default() *Config {
	return &Config{
		StateDir: "/var/shepherd/state",
		DBDir:    "/var/shepherd/db",
		Timeout: TimeoutConfig{
			ReapCycle:         DefaultReapCycle,
			StdServerDelay:    DefaultStdServerDelay,
			MinServerDelay:    DefaultMinServerDelay,
			AutoreplyDelay:    DefaultAutoreplyDelay,
			ConnErrDelay:      DefaultConnErrDelay,
			CheckpointPeriod:  DefaultCheckpointPeriod,
			BucketWatchPeriod: DefaultBucketWatchPeriod,
		},
		Limits: LimitsConfig{
			DefaultSoftLimit: 5000,
			DeadSoftLimit:    100,
			HardLimitFactor:  1.5,
			SafetyBrakeLimit: DefaultSafetyBrakeLimit,
			SelectHysteresis: DefaultSelectHysteresis,
		},
		Reap: ReapConfig{
			ReqErrRetry:        DefaultReqErrRetry,
			SiteErrRetry:       DefaultSiteErrRetry,
			MaxResolvers:       DefaultMaxResolvers,
			MaxFlushers:        DefaultMaxFlushers,
			ContribGap:         10,
			EstimatedRawPerf:   100,
			ReapOptimismFactor: DefaultReapOptimismFactor,
			ReapSlowdownFactor: 1.0,
			DutyFactor:         0.9,
		},
		Contrib: ContribConfig{
			CacheSize:     DefaultContribCacheSize,
			DefaultWeight: 100,
		},
		Refresh: RefreshConfig{
			StableTimeUnit:     DefaultStableTimeUnit,
			MinRobotsFrequency: DefaultMinRobotsFrequency,
			MinEQFrequency:     DefaultMinEQFrequency,
			MaxErrFrequency:    DefaultMaxErrFrequency,
			AnticipatedRefAge: DefaultReapCycle / 2,
			Schemas:           map[string]RefreshSchema{},
		},
		Zombie: ZombieConfig{
			Expire:                  DefaultZombieExpire,
			RedirectToZombieTimeout: DefaultRedirectZombieTTL,
		},
		Disk: DiskConfig{
			MinFreeSpace:      DefaultMinFreeSpace,
			MinBucketReserve:  DefaultMinBucketReserve,
			MaxBucketFileSize: DefaultMaxBucketFileSize,
		},
		Control: ControlConfig{
			Port:           DefaultPort,
			BorrowTokenTTL: 10 * time.Minute,
		},
	}
}

// globalConfigOwner mirrors cmn/config.go's GCO: a mutex-guarded holder
// around a swappable *Config behind a read-write lock, so readers block only
// while a Store holds the write lock and never observe a half-updated Config.
type globalConfigOwner struct {
	mtx sync.Mutex
	cur atomic32Value
}

type atomic32Value struct {
	mu sync.RWMutex
	v  *Config
}

func (a *atomic32Value) Load() *Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.v
}

func (a *atomic32Value) Store(c *Config) {
	a.mu.Lock()
	a.v = c
	a.mu.Unlock()
}

var GCO = &globalConfigOwner{}

func init() { GCO.cur.Store(Default()) }

func (owner *globalConfigOwner) Get() *Config { return owner.cur.Load() }

// Put installs a brand-new Config (used by loaders/tests).
func (owner *globalConfigOwner) Put(c *Config) {
	owner.mtx.Lock()
	owner.cur.Store(c)
	owner.mtx.Unlock()
}

// LoadFile loads JSON config from path, applies "key1=value1,key2=value2"
// CLI overrides, and installs the result as the process-wide Config.
func LoadFile(path string, overrides string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		if err := jsoniter.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if overrides != "" {
		if err := applyOverrides(cfg, overrides); err != nil {
			return nil, err
		}
	}
	GCO.Put(cfg)
	glog.Infof("config loaded from %q (%d override(s))", path, len(strings.Split(overrides, ",")))
	return cfg, nil
}

// applyOverrides mutates a handful of commonly-overridden scalar fields;
// this mirrors the teacher's confCustom CLI flag, scaled down to the
// fields Shepherd's own CLIs actually need to flip at startup.
func applyOverrides(cfg *Config, overrides string) error {
	for _, kv := range strings.Split(overrides, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad override %q: expected key=value", kv)
		}
		key, val := parts[0], parts[1]
		switch key {
		case "control.port":
			p, err := strconv.Atoi(val)
			if err != nil {
				return err
			}
			cfg.Control.Port = p
		case "state_dir":
			cfg.StateDir = val
		case "reap.max_resolvers":
			n, err := strconv.Atoi(val)
			if err != nil {
				return err
			}
			cfg.Reap.MaxResolvers = n
		case "limits.safety_brake_limit":
			n, err := strconv.Atoi(val)
			if err != nil {
				return err
			}
			cfg.Limits.SafetyBrakeLimit = n
		default:
			return fmt.Errorf("unknown override key %q", key)
		}
	}
	return nil
}

// RegisterCommonFlags registers the config/override flags shared by every
// Shepherd CLI, matching the teacher's `-config`/`-confCustom` convention.
func RegisterCommonFlags(fset *flag.FlagSet) (configPath, overrides *string) {
	configPath = fset.String("config", "", "path to JSON config file")
	overrides = fset.String("confCustom", "", "key1=value1,key2=value2 formatted overrides")
	return
}
