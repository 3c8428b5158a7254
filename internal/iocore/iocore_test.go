package iocore

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigation-io/internal/config"
	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/hw"
	"github.com/sweeney/irrigation-io/internal/shiftreg"
	"github.com/sweeney/irrigation-io/internal/signal"
)

var bankConfig = shiftreg.Config{
	OutputClockPin:  4,
	OutputLatchPin:  5,
	OutputDataPin:   6,
	OutputEnablePin: 7,
	NumOutputChips:  1,
	InputClockPin:   8,
	InputLoadPin:    9,
	InputDataPin:    10,
	NumInputChips:   1,
}

func newTestBank(t *testing.T, fake *hw.FakeDriver) *shiftreg.Driver {
	t.Helper()
	bank, err := shiftreg.New(fake, fake, bankConfig, 0)
	if err != nil {
		t.Fatalf("shiftreg.New: %v", err)
	}
	return bank
}

func analogPoint(id string, pin int) config.Point {
	return config.Point{
		ID:       id,
		Kind:     config.KindAnalogInputGPIO,
		Pin:      pin,
		RangeMin: 0,
		RangeMax: 100,
		Signal: signal.Config{
			Enabled:         true,
			Gain:            1,
			Scale:           1,
			Filter:          signal.FilterNone,
			WindowSize:      5,
			PrecisionDigits: 2,
		},
	}
}

func TestNewForcesOutputsOff(t *testing.T) {
	fake := hw.NewFakeDriver()
	bank := newTestBank(t, fake)

	points := []config.Point{
		{ID: "pump", Kind: config.KindBinaryOutputGPIO, Pin: 25},
		{ID: "valve1", Kind: config.KindBinaryOutputSR, ChipIdx: 0, BitIdx: 3},
	}
	r, err := New(fake, bank, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if v, ok := fake.LastWrite(25); !ok || v {
		t.Errorf("pump pin after init = %v, %v, want low", v, ok)
	}
	for _, id := range []string{"pump", "valve1"} {
		got, err := r.GetBinaryOutput(id)
		if err != nil {
			t.Fatalf("GetBinaryOutput(%s): %v", id, err)
		}
		if got {
			t.Errorf("%s reports on after init", id)
		}
	}
	if on, _ := bank.GetOutputBit(0, 3); on {
		t.Error("valve bit set after init")
	}
}

func TestPollOnceAnalog(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.AnalogCodes[36] = 2048

	r, err := New(fake, nil, []config.Point{analogPoint("soil", 36)}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	st, err := r.GetRuntimeState("soil")
	if err != nil {
		t.Fatalf("GetRuntimeState: %v", err)
	}
	// 2048/4095 of a 0..100 span, rounded to two digits.
	if st.ConditionedValue != 50.01 {
		t.Errorf("conditioned = %v, want 50.01", st.ConditionedValue)
	}
	if st.RawValue < 50.0 || st.RawValue > 50.1 {
		t.Errorf("raw = %v, want ~50.01", st.RawValue)
	}
	if st.UpdateCount != 1 || st.ErrorState {
		t.Errorf("state = %+v, want one clean update", st)
	}
}

func TestPollOnceBinaryInverted(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.DigitalLevels[17] = false

	points := []config.Point{
		{ID: "rain", Kind: config.KindBinaryInputGPIO, Pin: 17, Inverted: true},
	}
	r, err := New(fake, nil, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	got, err := r.GetBinaryInput("rain")
	if err != nil {
		t.Fatalf("GetBinaryInput: %v", err)
	}
	if !got {
		t.Error("inverted low level should read as active")
	}
	st, _ := r.GetRuntimeState("rain")
	if st.ConditionedValue != 1 {
		t.Errorf("conditioned = %v, want 1", st.ConditionedValue)
	}
}

func TestPollOnceShiftRegisterInput(t *testing.T) {
	fake := hw.NewFakeDriver()
	bank := newTestBank(t, fake)

	// One chip is read MSB first; bit 6 high.
	fake.InputSeq[bankConfig.InputDataPin] = []bool{
		false, true, false, false, false, false, false, false,
	}

	points := []config.Point{
		{ID: "flow", Kind: config.KindBinaryInputSR, ChipIdx: 0, BitIdx: 6},
	}
	r, err := New(fake, bank, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	got, err := r.GetBinaryInput("flow")
	if err != nil {
		t.Fatalf("GetBinaryInput: %v", err)
	}
	if !got {
		t.Error("flow switch should be active")
	}
}

func TestReadErrorRetainsLastGoodValue(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.AnalogCodes[36] = 2048

	r, err := New(fake, nil, []config.Point{analogPoint("soil", 36)}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.PollOnce(); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	fake.ReadErr[36] = errors.New("adc glitch")
	if err := r.PollOnce(); err != nil {
		t.Fatalf("second poll: %v", err)
	}

	st, _ := r.GetRuntimeState("soil")
	if !st.ErrorState {
		t.Error("error state not flagged")
	}
	if st.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", st.ErrorCount)
	}
	if st.ConditionedValue != 50.01 {
		t.Errorf("last good value lost: got %v", st.ConditionedValue)
	}
	if st.UpdateCount != 1 {
		t.Errorf("update count advanced on a failed read: %d", st.UpdateCount)
	}

	stats, err := r.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalErrors != 1 || stats.CycleCount != 2 {
		t.Errorf("stats = %+v, want 1 error over 2 cycles", stats)
	}

	// Recovery clears the flag but keeps the count.
	delete(fake.ReadErr, 36)
	if err := r.PollOnce(); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	st, _ = r.GetRuntimeState("soil")
	if st.ErrorState || st.ErrorCount != 1 || st.UpdateCount != 2 {
		t.Errorf("after recovery state = %+v", st)
	}
}

func TestSetBinaryOutput(t *testing.T) {
	fake := hw.NewFakeDriver()
	bank := newTestBank(t, fake)

	points := []config.Point{
		{ID: "pump", Kind: config.KindBinaryOutputGPIO, Pin: 25},
		{ID: "drain", Kind: config.KindBinaryOutputGPIO, Pin: 26, Inverted: true},
		{ID: "valve1", Kind: config.KindBinaryOutputSR, ChipIdx: 0, BitIdx: 3},
		{ID: "rain", Kind: config.KindBinaryInputGPIO, Pin: 17},
	}
	r, err := New(fake, bank, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.SetBinaryOutput("pump", true); err != nil {
		t.Fatalf("SetBinaryOutput(pump): %v", err)
	}
	if v, _ := fake.LastWrite(25); !v {
		t.Error("pump pin not driven high")
	}
	if on, _ := r.GetBinaryOutput("pump"); !on {
		t.Error("pump logical state not on")
	}

	// Inverted point: logical on is a low hardware level.
	if err := r.SetBinaryOutput("drain", true); err != nil {
		t.Fatalf("SetBinaryOutput(drain): %v", err)
	}
	if v, _ := fake.LastWrite(26); v {
		t.Error("inverted output driven high for logical on")
	}
	if on, _ := r.GetBinaryOutput("drain"); !on {
		t.Error("drain logical state not on")
	}

	if err := r.SetBinaryOutput("valve1", true); err != nil {
		t.Fatalf("SetBinaryOutput(valve1): %v", err)
	}
	if on, _ := bank.GetOutputBit(0, 3); !on {
		t.Error("valve bit not set")
	}

	if err := r.SetBinaryOutput("rain", true); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("writing an input point: err = %v, want invalid argument", err)
	}
	if err := r.SetBinaryOutput("ghost", true); !errors.Is(err, errcode.NotFound) {
		t.Errorf("unknown id: err = %v, want not found", err)
	}
}

func TestOnSampleBridge(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.AnalogCodes[36] = 2048
	fake.AnalogCodes[39] = 1000

	monitored := analogPoint("soil", 36)
	monitored.Alarm.Enabled = true
	quiet := analogPoint("temp", 39)

	var gotID string
	var gotVal float64
	var calls int
	r, err := New(fake, nil, []config.Point{monitored, quiet}, Options{
		OnSample: func(id string, v float64) {
			gotID, gotVal = id, v
			calls++
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if calls != 1 {
		t.Fatalf("OnSample calls = %d, want 1 (monitored point only)", calls)
	}
	if gotID != "soil" || gotVal != 50.01 {
		t.Errorf("OnSample got (%s, %v), want (soil, 50.01)", gotID, gotVal)
	}
}

func TestPollingLifecycle(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.AnalogCodes[36] = 100

	r, err := New(fake, nil, []config.Point{analogPoint("soil", 36)}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.StartPolling(2 * time.Millisecond); err != nil {
		t.Fatalf("StartPolling: %v", err)
	}
	if err := r.StartPolling(2 * time.Millisecond); !errors.Is(err, errcode.InvalidState) {
		t.Errorf("second start: err = %v, want invalid state", err)
	}

	deadline := time.After(time.Second)
	for {
		stats, err := r.Statistics()
		if err != nil {
			t.Fatalf("Statistics: %v", err)
		}
		if stats.CycleCount > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poller never completed a cycle")
		case <-time.After(time.Millisecond):
		}
	}

	if err := r.StopPolling(); err != nil {
		t.Fatalf("StopPolling: %v", err)
	}
	if err := r.StopPolling(); err != nil {
		t.Errorf("stopping a stopped poller: %v", err)
	}
}

func TestReloadPreservesOutputs(t *testing.T) {
	fake := hw.NewFakeDriver()
	bank := newTestBank(t, fake)

	points := []config.Point{
		{ID: "pump", Kind: config.KindBinaryOutputGPIO, Pin: 25},
		{ID: "valve1", Kind: config.KindBinaryOutputSR, ChipIdx: 0, BitIdx: 3},
	}
	r, err := New(fake, bank, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.SetBinaryOutput("pump", true); err != nil {
		t.Fatalf("SetBinaryOutput: %v", err)
	}
	if err := r.SetBinaryOutput("valve1", true); err != nil {
		t.Fatalf("SetBinaryOutput: %v", err)
	}

	fake.ResetTrace()
	reloaded := append([]config.Point{}, points...)
	reloaded = append(reloaded, analogPointWithCode(fake, "soil", 36, 500))
	if err := r.Reload(reloaded); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := fake.TraceFor(25); len(got) != 0 {
		t.Errorf("reload touched the pump pin: %v", got)
	}
	if on, _ := r.GetBinaryOutput("pump"); !on {
		t.Error("pump state lost across reload")
	}
	if on, _ := r.GetBinaryOutput("valve1"); !on {
		t.Error("valve state lost across reload")
	}
	if on, _ := bank.GetOutputBit(0, 3); !on {
		t.Error("valve bit cleared on reload")
	}

	if err := r.PollOnce(); err != nil {
		t.Fatalf("PollOnce after reload: %v", err)
	}
	if _, err := r.GetAnalogConditioned("soil"); err != nil {
		t.Errorf("new point unusable after reload: %v", err)
	}
}

func analogPointWithCode(fake *hw.FakeDriver, id string, pin, code int) config.Point {
	fake.AnalogCodes[pin] = code
	return analogPoint(id, pin)
}

func TestShutdownOutputs(t *testing.T) {
	fake := hw.NewFakeDriver()
	bank := newTestBank(t, fake)

	points := []config.Point{
		{ID: "pump", Kind: config.KindBinaryOutputGPIO, Pin: 25},
		{ID: "valve1", Kind: config.KindBinaryOutputSR, ChipIdx: 0, BitIdx: 3},
	}
	r, err := New(fake, bank, points, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.SetBinaryOutput("pump", true)
	r.SetBinaryOutput("valve1", true)

	if err := r.ShutdownOutputs(); err != nil {
		t.Fatalf("ShutdownOutputs: %v", err)
	}
	if v, _ := fake.LastWrite(25); v {
		t.Error("pump left on after shutdown")
	}
	if on, _ := bank.GetOutputBit(0, 3); on {
		t.Error("valve left on after shutdown")
	}
}

func TestPointIDsSurfacesLockTimeout(t *testing.T) {
	fake := hw.NewFakeDriver()
	fake.AnalogCodes[36] = 2048
	r, err := New(fake, nil, []config.Point{analogPoint("soil", 36)}, Options{
		LockTimeout: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ids, err := r.PointIDs()
	if err != nil {
		t.Fatalf("PointIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "soil" {
		t.Fatalf("ids = %v", ids)
	}

	if err := r.mu.Lock(time.Second); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer r.mu.Unlock()
	if _, err := r.PointIDs(); !errors.Is(err, errcode.Timeout) {
		t.Errorf("err while lock held = %v, want timeout", err)
	}
}

func TestPointLimit(t *testing.T) {
	fake := hw.NewFakeDriver()
	points := make([]config.Point, MaxPoints+1)
	for i := range points {
		points[i] = config.Point{
			ID:   string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Kind: config.KindBinaryInputGPIO,
			Pin:  i,
		}
	}
	if _, err := New(fake, nil, points, Options{}); !errors.Is(err, errcode.NoMemory) {
		t.Errorf("err = %v, want no memory", err)
	}
}

func TestShiftRegisterPointWithoutBank(t *testing.T) {
	fake := hw.NewFakeDriver()
	points := []config.Point{
		{ID: "valve1", Kind: config.KindBinaryOutputSR, ChipIdx: 0, BitIdx: 0},
	}
	if _, err := New(fake, nil, points, Options{}); !errors.Is(err, errcode.InvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}
