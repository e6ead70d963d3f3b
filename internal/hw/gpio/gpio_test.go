package gpio

import "testing"

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver("mock")
	if err != nil {
		t.Fatalf("NewDriver(mock): %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(mock) = %T, want *MockDriver", d)
	}
}

func TestNewDriver_Unknown(t *testing.T) {
	if _, err := NewDriver("arduino"); err == nil {
		t.Error("expected error for unknown driver, got nil")
	}
}

func TestMockDriver_InputAlternates(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(18, Input); err != nil {
		t.Fatal(err)
	}
	want := []Level{High, Low, High, Low}
	for i, w := range want {
		got, err := m.ReadPin(18)
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Errorf("read %d = %v, want %v", i, got, w)
		}
	}
}

func TestMockDriver_OutputKeepsLevel(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(7, Output); err != nil {
		t.Fatal(err)
	}
	if m.Written(7) != Low {
		t.Error("output pin should start Low")
	}
	if err := m.WritePin(7, High); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if got, _ := m.ReadPin(7); got != High {
			t.Errorf("read %d of output pin = %v, want High", i, got)
		}
	}
}

func TestHardwarePWMPin(t *testing.T) {
	tests := []struct {
		pin  int
		want bool
	}{
		{12, true},
		{13, true},
		{18, true},
		{19, true},
		{7, false},
		{10, false},
	}
	for _, tt := range tests {
		if got := HardwarePWMPin(tt.pin); got != tt.want {
			t.Errorf("HardwarePWMPin(%d) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestMockDriver_PullUpInputAlternates(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(11, InputPullUp); err != nil {
		t.Fatal(err)
	}
	first, _ := m.ReadPin(11)
	second, _ := m.ReadPin(11)
	if first != High || second != Low {
		t.Errorf("reads = %v, %v, want High then Low", first, second)
	}
}
