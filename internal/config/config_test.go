package config

import (
	"errors"
	"testing"

	"github.com/sweeney/irrigation-io/internal/errcode"
	"github.com/sweeney/irrigation-io/internal/signal"
)

const sampleJSON = `{
  "shiftRegisterConfig": {
    "outputClockPin": 18,
    "outputLatchPin": 19,
    "outputDataPin": 21,
    "outputEnablePin": 22,
    "numOutputRegisters": 2,
    "inputClockPin": 23,
    "inputLoadPin": 25,
    "inputDataPin": 26,
    "numInputRegisters": 1
  },
  "ioPoints": [
    {
      "id": "soil_moisture_1",
      "name": "Zone 1 soil moisture",
      "type": "GPIO_AI",
      "pin": 36,
      "rangeMin": 0,
      "rangeMax": 100,
      "signalConfig": {
        "enabled": true,
        "filterType": "sma",
        "smaWindowSize": 8,
        "gain": 1.0,
        "offset": -2.5,
        "scalingFactor": 1.0,
        "precisionDigits": 2
      },
      "alarmConfig": {
        "enabled": true,
        "rules": {
          "checkRateOfChange": true,
          "rateOfChangeThreshold": 25,
          "checkDisconnected": true,
          "disconnectedThreshold": 0.5,
          "alarmPersistenceSamples": 3,
          "samplesToClearAlarmCondition": 5
        }
      }
    },
    {
      "id": "rain_sensor",
      "type": "GPIO_BI",
      "pin": 27,
      "isInverted": true
    },
    {
      "id": "valve_zone_1",
      "type": "SHIFT_REG_BO",
      "chipIndex": 0,
      "bitIndex": 3
    },
    {
      "id": "flow_switch",
      "type": "SHIFT_REG_BI",
      "chipIndex": 0,
      "bitIndex": 6
    }
  ]
}`

func TestParseSample(t *testing.T) {
	f, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Points) != 4 {
		t.Fatalf("expected 4 points, got %d", len(f.Points))
	}

	p := f.Points[0]
	if p.Kind != KindAnalogInputGPIO || p.Pin != 36 {
		t.Errorf("point 0 = %+v", p)
	}
	if !p.Signal.Enabled || p.Signal.Filter != signal.FilterSMA || p.Signal.WindowSize != 8 {
		t.Errorf("signal config = %+v", p.Signal)
	}
	if p.Signal.Offset != -2.5 {
		t.Errorf("offset = %v, want -2.5", p.Signal.Offset)
	}
	if !p.Alarm.Enabled || p.Alarm.Rules.PersistenceSamples != 3 {
		t.Errorf("alarm config = %+v", p.Alarm)
	}

	if f.ShiftRegister.NumOutputChips != 2 || f.ShiftRegister.OutputLatchPin != 19 {
		t.Errorf("shift register config = %+v", f.ShiftRegister)
	}
}

func TestDefaultsApplied(t *testing.T) {
	f, err := Parse([]byte(`{"ioPoints":[{"id":"p1","type":"GPIO_AI","pin":36,"signalConfig":{"enabled":true}}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := f.Points[0]
	if p.Signal.Gain != 1 || p.Signal.Scale != 1 {
		t.Errorf("gain/scale defaults = %v/%v, want 1/1", p.Signal.Gain, p.Signal.Scale)
	}
	if p.Signal.WindowSize != 5 || p.Signal.PrecisionDigits != 2 {
		t.Errorf("window/precision defaults = %d/%d, want 5/2", p.Signal.WindowSize, p.Signal.PrecisionDigits)
	}
	if p.RangeMax != 100 {
		t.Errorf("rangeMax default = %v, want 100", p.RangeMax)
	}
	r := p.Alarm.Rules
	if r.PersistenceSamples != 1 || r.SamplesToClear != 3 || r.GoodSamplesToRestoreTrust != 5 {
		t.Errorf("alarm rule defaults = %+v", r)
	}
	if r.StuckSignalWindowSamples != 10 || r.StuckSignalDeltaThreshold != 1.0 {
		t.Errorf("stuck-signal defaults = %+v", r)
	}
}

func TestExplicitValuesBeatDefaults(t *testing.T) {
	f, err := Parse([]byte(`{"ioPoints":[{"id":"p1","type":"GPIO_AI","pin":36,
		"signalConfig":{"enabled":true,"gain":2.5,"smaWindowSize":3}}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Points[0].Signal.Gain != 2.5 || f.Points[0].Signal.WindowSize != 3 {
		t.Errorf("signal = %+v", f.Points[0].Signal)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing id", `{"ioPoints":[{"type":"GPIO_BI","pin":4}]}`},
		{"duplicate id", `{"ioPoints":[{"id":"a","type":"GPIO_BI","pin":4},{"id":"a","type":"GPIO_BI","pin":5}]}`},
		{"unknown kind", `{"ioPoints":[{"id":"a","type":"GPIO_XX","pin":4}]}`},
		{"gpio without pin", `{"ioPoints":[{"id":"a","type":"GPIO_BO"}]}`},
		{"bit out of range", `{"shiftRegisterConfig":{"numOutputRegisters":1,"outputClockPin":1,"outputLatchPin":2,"outputDataPin":3},"ioPoints":[{"id":"a","type":"SHIFT_REG_BO","chipIndex":0,"bitIndex":8}]}`},
		{"chip beyond bank", `{"shiftRegisterConfig":{"numOutputRegisters":1,"outputClockPin":1,"outputLatchPin":2,"outputDataPin":3},"ioPoints":[{"id":"a","type":"SHIFT_REG_BO","chipIndex":1,"bitIndex":0}]}`},
		{"empty analog range", `{"ioPoints":[{"id":"a","type":"GPIO_AI","pin":36,"rangeMin":10,"rangeMax":10}]}`},
		{"bad filter", `{"ioPoints":[{"id":"a","type":"GPIO_AI","pin":36,"signalConfig":{"enabled":true,"filterType":"median"}}]}`},
		{"zero persistence", `{"ioPoints":[{"id":"a","type":"GPIO_AI","pin":36,"alarmConfig":{"enabled":true,"rules":{"alarmPersistenceSamples":0}}}]}`},
		{"stuck window too big", `{"ioPoints":[{"id":"a","type":"GPIO_AI","pin":36,"alarmConfig":{"enabled":true,"rules":{"checkStuckSignal":true,"stuckSignalWindowSamples":21}}}]}`},
		{"output pins unwired", `{"shiftRegisterConfig":{"numOutputRegisters":1}}`},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.json)); !errors.Is(err, errcode.InvalidArgument) {
			t.Errorf("%s: expected invalid_argument, got %v", c.name, err)
		}
	}
}

func TestParseMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"ioPoints":`)); err == nil {
		t.Fatal("expected error for truncated document")
	}
}
