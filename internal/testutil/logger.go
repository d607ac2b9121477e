package testutil

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

// CaptureStandardLogger redirects logrus's package-level logger into a buffer
// at debug level for the rest of the test.
func CaptureStandardLogger(t testing.TB) *bytes.Buffer {
	t.Helper()
	std := logrus.StandardLogger()
	out, level := std.Out, std.GetLevel()
	var buf bytes.Buffer
	std.SetOutput(&buf)
	std.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		std.SetOutput(out)
		std.SetLevel(level)
	})
	return &buf
}
