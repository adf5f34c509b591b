// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// CaptureLogs redirects monitoring.Logf for the duration of the test and
// returns a function that snapshots the formatted lines logged so far.
func CaptureLogs(t testing.TB) func() []string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

// CountContaining returns how many lines contain substr.
func CountContaining(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
