// Package footprint computes and orders the 128-bit MD5-derived URL
// identifiers ("footprints") that key every record in the URL index,
// journal, plan, and contribution files. Each 64-bit half is an MD5
// digest folded in two, not the full digest.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package footprint

import (
	"crypto/md5"
	"encoding/binary"
	"net/url"
	"strconv"
	"strings"
)

// SiteFP is the MD5 of (protocol_id, port, host): spec §3.1.
type SiteFP [2]uint32

// RestFP is the MD5 of the URL path+query: spec §3.1.
type RestFP [2]uint32

// FP is the full 128-bit footprint (site_fp, rest_fp), 64 bits per half.
type FP struct {
	Site SiteFP
	Rest RestFP
}

// Well-known rest_fp constants, reproduced bit-for-bit from the original
// implementation's footprint.h so that independently-derived footprints
// for these three synthetic URLs agree with the source corpus.
var (
	RobotsTxt = RestFP{0xc3ced96e, 0x5d3e1f56}
	Root      = RestFP{0x76cd6666, 0x465669f9}
	Skey      = RestFP{0, 0}
)

// Max is the greatest possible footprint, used as an open-ended sort bound.
var Max = FP{Site: SiteFP{^uint32(0), ^uint32(0)}, Rest: RestFP{^uint32(0), ^uint32(0)}}

const (
	protoHTTP  = 1
	protoHTTPS = 2
)

func protocolID(scheme string) uint32 {
	switch strings.ToLower(scheme) {
	case "https":
		return protoHTTPS
	default:
		return protoHTTP
	}
}

func defaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}

// md5pair folds an MD5 digest into two u32 words: the big-endian words of
// bytes 0-3 and 8-11 XORed, then those of bytes 4-7 and 12-15 XORed.
func md5pair(data []byte) [2]uint32 {
	sum := md5.Sum(data)
	return [2]uint32{
		binary.BigEndian.Uint32(sum[0:4]) ^ binary.BigEndian.Uint32(sum[8:12]),
		binary.BigEndian.Uint32(sum[4:8]) ^ binary.BigEndian.Uint32(sum[12:16]),
	}
}

// SiteFingerprint computes site_fp = MD5(protocol_id, port, host).
func SiteFingerprint(u *url.URL) SiteFP {
	port := u.Port()
	p := defaultPort(u.Scheme)
	if port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			p = n
		}
	}
	buf := make([]byte, 0, 32)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], protocolID(u.Scheme))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], uint32(p))
	buf = append(buf, tmp[:]...)
	buf = append(buf, []byte(strings.ToLower(u.Hostname()))...)
	pair := md5pair(buf)
	return SiteFP(pair)
}

// RestFingerprint computes rest_fp = MD5(path+query).
func RestFingerprint(u *url.URL) RestFP {
	rest := u.EscapedPath()
	if rest == "" {
		rest = "/"
	}
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	pair := md5pair([]byte(rest))
	return RestFP(pair)
}

// Of returns the full footprint of a parsed URL.
func Of(u *url.URL) FP {
	return FP{Site: SiteFingerprint(u), Rest: RestFingerprint(u)}
}

// OfString parses raw and returns its footprint.
func OfString(raw string) (FP, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return FP{}, err
	}
	return Of(u), nil
}

// Hash returns the first 32 bits of site_fp, used as a hash-table key
// (spec §3.1: "the first 32 bits of site_fp are used as hash").
func (fp FP) Hash() uint32 { return fp.Site[0] }

func cmpU32Pair(a, b [2]uint32) int {
	if a[0] != b[0] {
		if a[0] < b[0] {
			return -1
		}
		return 1
	}
	if a[1] != b[1] {
		if a[1] < b[1] {
			return -1
		}
		return 1
	}
	return 0
}

// CmpSite orders two site fingerprints.
func CmpSite(a, b SiteFP) int { return cmpU32Pair([2]uint32(a), [2]uint32(b)) }

// CmpRest orders two rest fingerprints.
func CmpRest(a, b RestFP) int { return cmpU32Pair([2]uint32(a), [2]uint32(b)) }

// Cmp orders footprints lexicographically on (site, rest) - spec §3.1's
// total order, the invariant the closed-state index file must respect.
func Cmp(a, b FP) int {
	if c := CmpSite(a.Site, b.Site); c != 0 {
		return c
	}
	return CmpRest(a.Rest, b.Rest)
}

func (fp FP) Equal(o FP) bool { return Cmp(fp, o) == 0 }

// IsSkey reports whether fp's rest component is the synthetic SKEY rest.
func (fp FP) IsSkey() bool { return fp.Rest == Skey }

// WithRest returns a copy of fp with a different rest component, used to
// build the synthetic ROBOTS_TXT/ROOT/SKEY footprints for a given site.
func (fp FP) WithRest(rest RestFP) FP { return FP{Site: fp.Site, Rest: rest} }
