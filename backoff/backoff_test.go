package backoff_test

import (
	"testing"
	"time"

	"github.com/toolplane/jobq/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for _, n := range []int{0, 1, 10, 100} {
		if d := c.Delay(n); d != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", n, d)
		}
	}
}

func TestExponential_Doubling(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, c := range cases {
		if d := e.Delay(c.retryCount); d != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.retryCount, d, c.want)
		}
	}
}

func TestExponential_Cap(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if d := e.Delay(10); d != 10*time.Second {
		t.Errorf("Delay(10) = %v, want cap of 10s", d)
	}
	// Large enough to overflow the float math; must still return the cap.
	if d := e.Delay(200); d != 10*time.Second {
		t.Errorf("Delay(200) = %v, want cap of 10s", d)
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 8*time.Second)

	for range 100 {
		d := e.Delay(2) // ceiling 4s
		if d < 0 || d > 4*time.Second {
			t.Fatalf("jittered delay %v outside [0, 4s]", d)
		}
	}
}
