// Package xmlreader turns a CTS-style test_result.xml into the ingestion
// input record. The decoder streams: module and class context is tracked
// positionally, unknown elements are skipped, and only failures plus pass
// names are retained.
package xmlreader

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/ingestion"
)

// Parse reads one result file. A truncated or malformed document returns
// ErrInvalidInput; attributes the harness did not emit stay zero-valued.
func Parse(r io.Reader) (*ingestion.RunInput, error) {
	dec := xml.NewDecoder(r)
	in := &ingestion.RunInput{}

	var (
		curModule  string
		curABI     string
		curClass   string
		moduleSeen = map[string]struct{}{}
		counted    ingestion.Stats
		sawResult  bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed result xml: %v", apperr.ErrInvalidInput, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Result":
				sawResult = true
				readResultAttrs(&in.Metadata, el.Attr)
			case "Build":
				readBuildAttrs(&in.Metadata, el.Attr)
			case "Summary":
				readSummaryAttrs(&in.Stats, el.Attr)
			case "Module":
				curModule = attr(el.Attr, "name")
				curABI = attr(el.Attr, "abi")
				if curModule != "" {
					if _, ok := moduleSeen[curModule]; !ok {
						moduleSeen[curModule] = struct{}{}
						in.Modules = append(in.Modules, curModule)
					}
				}
			case "TestCase":
				curClass = attr(el.Attr, "name")
			case "Test":
				if err := readTest(dec, el, curModule, curABI, curClass, in, &counted); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "Module":
				curModule, curABI = "", ""
			case "TestCase":
				curClass = ""
			}
		}
	}

	if !sawResult {
		return nil, fmt.Errorf("%w: no Result element in document", apperr.ErrInvalidInput)
	}

	// Older harness versions omit the Summary element; fall back to the
	// per-test tally.
	if in.Stats.TotalTests == 0 {
		in.Stats.PassedTests = counted.PassedTests
		in.Stats.FailedTests = counted.FailedTests
		in.Stats.IgnoredTests = counted.IgnoredTests
		in.Stats.TotalTests = counted.PassedTests + counted.FailedTests
	}
	if in.Stats.IgnoredTests == 0 {
		in.Stats.IgnoredTests = counted.IgnoredTests
	}
	if in.Stats.TotalModules == 0 {
		in.Stats.TotalModules = len(in.Modules)
	}
	return in, nil
}

// readTest consumes one Test element and its Failure/StackTrace children.
func readTest(dec *xml.Decoder, start xml.StartElement, module, abi, class string, in *ingestion.RunInput, counted *ingestion.Stats) error {
	result := strings.ToLower(attr(start.Attr, "result"))
	method := attr(start.Attr, "name")

	rec := ingestion.CaseRecord{
		ModuleName: module,
		ModuleABI:  abi,
		ClassName:  class,
		MethodName: method,
	}

	switch result {
	case "pass":
		counted.PassedTests++
		in.Passes = append(in.Passes, rec)
		return dec.Skip()
	case "fail":
		counted.FailedTests++
		rec.Status = "fail"
	case "ignored":
		counted.IgnoredTests++
		rec.Status = "ignored"
	case "assumption_failure":
		counted.IgnoredTests++
		rec.Status = "assumption_failure"
	default:
		// not_executed and friends carry no per-case record.
		return dec.Skip()
	}

	// Walk the children for the failure payload.
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: truncated Test element: %v", apperr.ErrInvalidInput, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Failure":
				rec.ErrorMessage = attr(el.Attr, "message")
			case "StackTrace":
				var trace string
				if err := dec.DecodeElement(&trace, &el); err != nil {
					return fmt.Errorf("%w: bad StackTrace element: %v", apperr.ErrInvalidInput, err)
				}
				rec.StackTrace = strings.TrimSpace(trace)
				continue
			}
			depth++
		case xml.EndElement:
			if depth == 0 {
				in.Failures = append(in.Failures, rec)
				return nil
			}
			depth--
		}
	}
}

func readResultAttrs(md *ingestion.Metadata, attrs []xml.Attr) {
	for _, a := range attrs {
		switch a.Name.Local {
		case "suite_name":
			md.TestSuiteName = a.Value
		case "suite_plan":
			md.SuitePlan = a.Value
		case "suite_version":
			md.SuiteVersion = a.Value
		case "start":
			md.StartTime = millisToTime(a.Value)
		case "end":
			md.EndTime = millisToTime(a.Value)
		}
	}
}

func readBuildAttrs(md *ingestion.Metadata, attrs []xml.Attr) {
	for _, a := range attrs {
		switch a.Name.Local {
		case "build_fingerprint":
			md.DeviceFingerprint = a.Value
		case "build_brand":
			md.BuildBrand = a.Value
		case "build_product":
			md.BuildProduct = a.Value
		case "build_model":
			md.BuildModel = a.Value
		case "build_device":
			md.BuildDevice = a.Value
		case "build_version_security_patch":
			md.SecurityPatch = a.Value
		case "build_version_release":
			md.AndroidVersion = a.Value
		case "build_abis":
			md.BuildABIs = a.Value
		}
	}
}

func readSummaryAttrs(st *ingestion.Stats, attrs []xml.Attr) {
	for _, a := range attrs {
		switch a.Name.Local {
		case "pass":
			st.PassedTests = atoi(a.Value)
		case "failed":
			st.FailedTests = atoi(a.Value)
		case "modules_done":
			st.PassedModules = atoi(a.Value)
		case "modules_total":
			st.TotalModules = atoi(a.Value)
		}
	}
	st.TotalTests = st.PassedTests + st.FailedTests
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func millisToTime(s string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
