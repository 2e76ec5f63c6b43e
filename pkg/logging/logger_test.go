package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestComponentLevelOverride(t *testing.T) {
	buf := &bytes.Buffer{}
	root := NewLogger(&Config{Level: InfoLevel, Format: TextFormat, Output: buf})
	worker := root.WithComponent("tasksystem.worker[3]")

	worker.Debug("quiet by default")
	if buf.Len() > 0 {
		t.Error("debug message should be suppressed before any override is set")
	}

	root.SetComponentLevel("tasksystem.worker[3]", DebugLevel)
	worker.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("debug message should appear once the component's level is overridden")
	}

	buf.Reset()
	other := root.WithComponent("tasksystem.worker[4]")
	other.Debug("still quiet")
	if buf.Len() > 0 {
		t.Error("override for one component must not leak to another")
	}

	root.ClearComponentLevel("tasksystem.worker[3]")
	buf.Reset()
	worker.Debug("quiet again")
	if buf.Len() > 0 {
		t.Error("clearing the override should restore the base level")
	}
}

func TestWarnEveryThrottlesRepeats(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: WarnLevel, Format: TextFormat, Output: buf}).WithComponent("tasksystem.worker[0]")

	log.WarnEvery(time.Hour, "idle worker found no stealable work")
	log.WarnEvery(time.Hour, "idle worker found no stealable work")
	log.WarnEvery(time.Hour, "idle worker found no stealable work")

	count := strings.Count(buf.String(), "idle worker found no stealable work")
	if count != 1 {
		t.Fatalf("expected exactly one line within the throttle window, got %d", count)
	}

	log.WarnEvery(0, "idle worker found no stealable work")
	if strings.Count(buf.String(), "idle worker found no stealable work") != 2 {
		t.Fatal("a zero window should not suppress the next call")
	}
}
