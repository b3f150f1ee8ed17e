package clustering

import (
	"regexp"
	"strings"
)

// maxAppFrames caps how many application stack frames feed the signature;
// deeper frames are framework noise more often than signal.
const maxAppFrames = 3

// frameworkFramePrefixes is the blocklist of harness/runtime frames that
// appear in virtually every failure and would glue unrelated clusters
// together.
var frameworkFramePrefixes = []string{
	"org.junit.",
	"java.lang.reflect.",
	"sun.reflect.",
	"androidx.test.",
	"com.android.compatibility.",
}

var (
	exceptionRe  = regexp.MustCompile(`(?:[A-Za-z_$][A-Za-z0-9_$]*\.)+[A-Za-z_$][A-Za-z0-9_$]*(?:Error|Exception|Failure|Throwable)`)
	lineNumberRe = regexp.MustCompile(`:\d+\)`)
	framePrefix  = regexp.MustCompile(`^\s*at\s+`)
)

// Failure is the clusterer's input: one persistent failure with enough
// context to derive its signature.
type Failure struct {
	ID           string `json:"id"`
	ModuleName   string `json:"module_name"`
	ModuleABI    string `json:"module_abi"`
	ClassName    string `json:"class_name"`
	MethodName   string `json:"method_name"`
	ErrorMessage string `json:"error_message"`
	StackTrace   string `json:"stack_trace"`
}

// ExceptionType returns the first fully-qualified exception class name in
// the stack trace (falling back to the error message), or "".
func (f *Failure) ExceptionType() string {
	if m := exceptionRe.FindString(f.StackTrace); m != "" {
		return m
	}
	return exceptionRe.FindString(f.ErrorMessage)
}

// AppFrames returns up to maxAppFrames normalized non-framework frames.
// Line-number tails are stripped so retries of the same crash at a shifted
// line still share a signature.
func (f *Failure) AppFrames() []string {
	var frames []string
	for _, line := range strings.Split(f.StackTrace, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !framePrefix.MatchString(line) {
			continue
		}
		frame := framePrefix.ReplaceAllString(line, "")
		if isFrameworkFrame(frame) {
			continue
		}
		frames = append(frames, lineNumberRe.ReplaceAllString(frame, ")"))
		if len(frames) == maxAppFrames {
			break
		}
	}
	return frames
}

func isFrameworkFrame(frame string) bool {
	for _, p := range frameworkFramePrefixes {
		if strings.HasPrefix(frame, p) {
			return true
		}
	}
	return false
}

// FeatureText builds the weighted text the vectorizer consumes. Repetition
// is the weighting scheme: module 3x, class 2x, exception 2x, frames 1x.
func (f *Failure) FeatureText() string {
	var sb strings.Builder
	appendN := func(s string, n int) {
		if s == "" {
			return
		}
		for i := 0; i < n; i++ {
			sb.WriteString(s)
			sb.WriteByte(' ')
		}
	}
	appendN(f.ModuleName, 3)
	appendN(f.ClassName, 2)
	appendN(f.ExceptionType(), 2)
	for _, fr := range f.AppFrames() {
		appendN(fr, 1)
	}
	return strings.TrimSpace(sb.String())
}

// Signature is the durable cluster identity string persisted as
// FailureCluster.signature: representative module, exception type and the
// first application frame.
func (f *Failure) Signature() string {
	first := ""
	if frames := f.AppFrames(); len(frames) > 0 {
		first = frames[0]
	}
	return f.ModuleName + "::" + f.ExceptionType() + "::" + first
}
