package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tohafrit/savegress-platform-sub002/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	c := New(time.Hour)
	c.Register("dlq", func() map[string]interface{} {
		return map[string]interface{}{"entries": 3, "segments": 1}
	})
	c.Register("buffer", func() map[string]interface{} {
		return map[string]interface{}{"occupancy": 0.25}
	})
	c.emit()

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("emit logged nothing")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("stats line is not JSON: %v", err)
	}
	attrs, ok := entry["Attributes"].(map[string]interface{})
	if !ok {
		t.Fatalf("no attributes in %q", line)
	}
	if attrs["dlq_entries"] != float64(3) {
		t.Errorf("dlq_entries = %v", attrs["dlq_entries"])
	}
	if attrs["buffer_occupancy"] != 0.25 {
		t.Errorf("buffer_occupancy = %v", attrs["buffer_occupancy"])
	}
}

func TestEmptyCollectorEmitsNothing(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	c := New(time.Hour)
	c.emit()
	if buf.Len() != 0 {
		t.Errorf("empty collector logged %q", buf.String())
	}
}

func TestStartStop(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(os.Stdout)

	c := New(5 * time.Millisecond)
	c.Register("buffer", func() map[string]interface{} {
		return map[string]interface{}{"events": 1}
	})
	c.Start()
	time.Sleep(25 * time.Millisecond)
	c.Stop()

	if buf.Len() == 0 {
		t.Error("running collector never logged")
	}
}
