package entity

import "testing"

func TestDomain(t *testing.T) {
	tests := []struct {
		name   string
		entity Entity
		want   Domain
		wantID string
	}{
		{"light", Light{EntityID: "light.kitchen"}, DomainLight, "light.kitchen"},
		{"cover", Cover{EntityID: "cover.living_room"}, DomainCover, "cover.living_room"},
		{"switch", Switch{EntityID: "switch.kettle"}, DomainSwitch, "switch.kettle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entity.Domain(); got != tt.want {
				t.Errorf("Domain() = %q, want %q", got, tt.want)
			}
			if got := tt.entity.ID(); got != tt.wantID {
				t.Errorf("ID() = %q, want %q", got, tt.wantID)
			}
		})
	}
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		id     string
		want   Domain
		wantOK bool
	}{
		{"light.kitchen", DomainLight, true},
		{"cover.garage.door", DomainCover, true},
		{"sensor.temperature", Domain("sensor"), true},
		{"kitchen", "", false},
		{".kitchen", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := DomainOf(tt.id)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DomainOf(%q) = (%q, %v), want (%q, %v)", tt.id, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	for _, d := range []Domain{DomainLight, DomainCover, DomainSwitch} {
		if !Supported(d) {
			t.Errorf("Supported(%q) = false, want true", d)
		}
	}
	if Supported("sensor") {
		t.Error("Supported(sensor) = true, want false")
	}
}

func TestPtr(t *testing.T) {
	p := Ptr(42)
	if p == nil || *p != 42 {
		t.Fatalf("Ptr(42) = %v", p)
	}
	*p = 7
	if q := Ptr(42); *q != 42 {
		t.Error("Ptr should return a fresh pointer each call")
	}
}
