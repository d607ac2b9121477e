package testutil

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCaptureStandardLogger(t *testing.T) {
	before := logrus.StandardLogger().Out

	t.Run("captures", func(t *testing.T) {
		buf := CaptureStandardLogger(t)
		logrus.Debug("hello")
		assert.Contains(t, buf.String(), "hello")
	})

	assert.Equal(t, before, logrus.StandardLogger().Out)
}
