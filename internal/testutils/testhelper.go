package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a logger whose entries are captured for assertions.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper with a silent, capturing logger at debug level.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Messages returns the captured log messages at level or more severe.
func (h *TestHelper) Messages(level logrus.Level) []string {
	var result []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			result = append(result, e.Message)
		}
	}
	return result
}

// EntriesWith returns captured entries whose message contains substr.
func (h *TestHelper) EntriesWith(substr string) []*logrus.Entry {
	var result []*logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if strings.Contains(e.Message, substr) {
			result = append(result, e)
		}
	}
	return result
}
