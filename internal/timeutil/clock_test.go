package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("RealClock.Now() = %v, earlier than %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("RealClock.Since returned a negative duration")
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("fired at %v, want %v", got, epoch.Add(2*time.Second))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestMockClock_AfterZeroFiresImmediately(t *testing.T) {
	c := NewMockClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire after interval")
	}

	mt := c.Tickers()[0]
	mt.Trigger(c.Now())
	mt.Trigger(c.Now())
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("Trigger should not queue more than one tick")
	default:
	}

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_Since(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(90 * time.Second)
	if got := c.Since(epoch); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}
