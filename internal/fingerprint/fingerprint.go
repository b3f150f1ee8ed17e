package fingerprint

import (
	"regexp"
	"strings"

	"github.com/triagehub/compat-backend/internal/types"
)

// Canonical form: BRAND/PRODUCT/DEVICE:RELEASE/ID/INCREMENTAL:TYPE/TAGS.
// The prefix group carries brand/product/device; the suffix group is
// everything from the second "/" of the right-hand side onward, so a GSI
// run with a generic prefix still shares the suffix with the device's
// canonical fingerprint.
var canonicalRe = regexp.MustCompile(`^([^:]+):([^/]+)/([^/]+)(/.+)$`)

// Parsed is the decomposition of a build fingerprint. A zero Parsed with
// MatchOK=false means the input was not in canonical form; parsing never
// fails outright.
type Parsed struct {
	Brand   string
	Product string
	Device  string
	Prefix  string
	Release string
	BuildID string
	Suffix  string
	MatchOK bool
}

// Parse splits fp into its canonical groups. Missing prefix segments come
// back empty rather than erroring.
func Parse(fp string) Parsed {
	m := canonicalRe.FindStringSubmatch(fp)
	if m == nil {
		return Parsed{}
	}
	p := Parsed{
		Prefix:  m[1],
		Release: m[2],
		BuildID: m[3],
		Suffix:  m[4],
		MatchOK: true,
	}
	segs := strings.Split(m[1], "/")
	if len(segs) > 0 {
		p.Brand = segs[0]
	}
	if len(segs) > 1 {
		p.Product = segs[1]
	}
	if len(segs) > 2 {
		p.Device = segs[2]
	}
	return p
}

// SuffixShort returns the first token of the suffix before "_" or ":",
// e.g. "user" or "userdebug"; used for the derived submission name.
func (p Parsed) SuffixShort() string {
	s := p.Suffix
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "/")
	}
	if i := strings.IndexAny(s, "_:/"); i >= 0 {
		s = s[:i]
	}
	return s
}

// IsSystemReplace reports whether the run replaced the device's system
// partition with a generic image: a CTS run on the cts-on-gsi plan, or
// any VTS run.
func IsSystemReplace(run *types.TestRun) bool {
	if run == nil {
		return false
	}
	name := strings.ToUpper(run.TestSuiteName)
	plan := strings.ToLower(run.SuitePlan)
	if name == "CTS" && strings.Contains(plan, "cts-on-gsi") {
		return true
	}
	if name == "VTS" && strings.Contains(plan, "vts") {
		return true
	}
	return false
}
