package thermal

import (
	"testing"

	"github.com/osmundg/duckberry/internal/hw"
)

func TestHysteresisSequence(t *testing.T) {
	temp := &hw.FixedTemp{}
	fan := &hw.NoopFan{}
	c := NewController(temp, fan, 55.0, 50.0)

	steps := []struct {
		temp float64
		want bool
	}{
		{52.0, false}, // below on-threshold, stays off
		{54.0, false},
		{55.0, true}, // exactly at the on-threshold switches
		{56.0, true},
		{54.0, true}, // hysteresis band, stays on
		{51.0, true},
		{50.0, false}, // exactly at the off-threshold switches
		{52.0, false}, // band again, stays off
		{49.0, false},
	}

	for i, step := range steps {
		temp.SetC(step.temp)
		c.Tick()
		if got := fan.Running(); got != step.want {
			t.Errorf("step %d (%.1f°C): running = %v, want %v", i, step.temp, got, step.want)
		}
	}
}

func TestOverrideForcesState(t *testing.T) {
	temp := &hw.FixedTemp{}
	fan := &hw.NoopFan{}
	c := NewController(temp, fan, 55.0, 50.0)

	mode := ModeOn
	c.ModeFunc = func() Mode { return mode }

	temp.SetC(30.0)
	c.Tick()
	if !fan.Running() {
		t.Fatal("override on: fan should run at 30°C")
	}

	mode = ModeOff
	temp.SetC(70.0)
	c.Tick()
	if fan.Running() {
		t.Fatal("override off: fan should be stopped at 70°C")
	}

	mode = ModeAuto
	c.Tick()
	if !fan.Running() {
		t.Fatal("auto at 70°C: fan should run")
	}
}

func TestStatusString(t *testing.T) {
	st := Status{Mode: ModeAuto, Running: true, TempC: 56.24}
	if got, want := st.String(), "auto|true|56.2"; got != want {
		t.Errorf("Status.String() = %q, want %q", got, want)
	}
	st = Status{Mode: ModeOff, Running: false, TempC: 40.0}
	if got, want := st.String(), "off|false|40.0"; got != want {
		t.Errorf("Status.String() = %q, want %q", got, want)
	}
}

func TestStatusCallback(t *testing.T) {
	temp := &hw.FixedTemp{}
	fan := &hw.NoopFan{}
	c := NewController(temp, fan, 55.0, 50.0)

	var snapshots []Status
	c.OnStatus = func(st Status) { snapshots = append(snapshots, st) }

	temp.SetC(60.0)
	c.Tick()
	temp.SetC(45.0)
	c.Tick()

	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}
	if !snapshots[0].Running || snapshots[1].Running {
		t.Errorf("snapshots = %+v, want on then off", snapshots)
	}
}
