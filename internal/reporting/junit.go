package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
)

// JUnit XML schema types

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Skipped    int              `xml:"skipped,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one pipeline run.
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one check result.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a required check failure.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitSkipped marks a check that did not run, or an advisory failure.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConvertToJUnit converts a report to JUnit XML format. Each check result
// becomes a test case, grouped by classname (the unit name, or "global").
// Advisory failures are emitted as skipped so that CI consumers fail only
// when the run's own overall status is failure.
func ConvertToJUnit(report *models.Report) *JUnitTestSuites {
	durationSec := float64(report.DurationMs) / 1000.0
	advisory := advisoryNames(report)
	results := sortedResults(report)

	suite := JUnitTestSuite{
		Name:      report.Pipeline,
		Tests:     len(results),
		Time:      durationSec,
		Timestamp: report.StartedAt.UTC().Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "pipeline", Value: report.Pipeline},
			{Name: "overall", Value: string(report.Overall())},
			{Name: "units", Value: fmt.Sprintf("%d", len(report.Units))},
		},
	}

	for _, res := range results {
		tc := convertResult(res, advisory[res.Check])
		if tc.Failure != nil {
			suite.Failures++
		}
		if tc.Skipped != nil {
			suite.Skipped++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	return &JUnitTestSuites{
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Skipped:    suite.Skipped,
		Time:       durationSec,
		TestSuites: []JUnitTestSuite{suite},
	}
}

func convertResult(res models.CheckResult, advisory bool) JUnitTestCase {
	tc := JUnitTestCase{
		Name:      res.Check,
		Classname: displayUnit(res.Unit),
		Time:      float64(res.DurationMs) / 1000.0,
	}

	switch res.Status {
	case models.StatusFailure:
		if advisory {
			tc.Skipped = &JUnitSkipped{Message: advisoryMessage(res)}
		} else {
			tc.Failure = buildFailure(res)
		}
	case models.StatusSkipped:
		tc.Skipped = &JUnitSkipped{Message: skipMessage(res)}
	}

	return tc
}

func buildFailure(res models.CheckResult) *JUnitFailure {
	msg := res.Reason
	if msg == "" {
		msg = "check failed"
	}
	return &JUnitFailure{
		Message: msg,
		Type:    "CheckFailure",
		Body:    res.Output,
	}
}

func advisoryMessage(res models.CheckResult) string {
	msg := "advisory check failed"
	if res.Reason != "" {
		msg += ": " + res.Reason
	}
	return msg
}

func skipMessage(res models.CheckResult) string {
	if res.Reason != "" {
		return res.Reason
	}
	return "skipped"
}

// WriteJUnitXML validates the report and writes JUnit XML to path.
func WriteJUnitXML(report *models.Report, path string) error {
	if err := ValidateReport(report); err != nil {
		return err
	}
	suites := ConvertToJUnit(report)

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JUnit XML: %w", err)
	}

	output := append([]byte(xml.Header), data...)
	return os.WriteFile(path, output, 0o644)
}
