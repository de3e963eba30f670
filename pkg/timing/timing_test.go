package timing

import (
	"strings"
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()

	timer.StartDial()
	time.Sleep(10 * time.Millisecond)
	timer.EndDial()

	timer.StartTTFB()
	time.Sleep(20 * time.Millisecond)
	timer.EndTTFB()

	metrics := timer.Metrics()

	if metrics.OriginDial < 5*time.Millisecond || metrics.OriginDial > 50*time.Millisecond {
		t.Errorf("unexpected dial timing: %v", metrics.OriginDial)
	}
	if metrics.TTFB < 15*time.Millisecond || metrics.TTFB > 60*time.Millisecond {
		t.Errorf("unexpected TTFB timing: %v", metrics.TTFB)
	}
	if metrics.TotalTime <= 0 {
		t.Error("total timing should be positive")
	}
}

func TestMetricsString(t *testing.T) {
	metrics := Metrics{
		OriginDial: 10 * time.Millisecond,
		TTFB:       20 * time.Millisecond,
		TotalTime:  100 * time.Millisecond,
	}

	str := metrics.String()
	for _, substr := range []string{"dial=", "ttfb=", "total="} {
		if !strings.Contains(str, substr) {
			t.Errorf("string representation %q should contain %q", str, substr)
		}
	}
}
