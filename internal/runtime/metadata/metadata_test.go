package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{KeyDeviceID: "dev1", KeySource: "producer"}
	clone := original.Clone()
	clone[KeyDeviceID] = "changed"

	if original[KeyDeviceID] != "dev1" {
		t.Fatalf("expected original map to stay untouched, got %q", original[KeyDeviceID])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneNil(t *testing.T) {
	var m Metadata
	if cloned := m.Clone(); cloned == nil || len(cloned) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", cloned)
	}
}

func TestWithSkipsEmptyValues(t *testing.T) {
	base := Metadata{KeySource: "producer"}
	enriched := base.With(KeyDeviceID, "dev1").With(KeyCorrelationID, "")

	if _, ok := base[KeyDeviceID]; ok {
		t.Fatal("expected base map to remain unchanged")
	}
	if enriched[KeyDeviceID] != "dev1" {
		t.Fatalf("expected device id, got %q", enriched[KeyDeviceID])
	}
	if _, ok := enriched[KeyCorrelationID]; ok {
		t.Fatal("expected empty value to be skipped")
	}
}

func TestNewIgnoresDanglingKey(t *testing.T) {
	md := New(KeyDeviceID, "dev1", KeySource)
	if len(md) != 1 || md[KeyDeviceID] != "dev1" {
		t.Fatalf("unexpected metadata %#v", md)
	}
}

func TestWatermillRoundTrip(t *testing.T) {
	md := New(KeyDeviceID, "dev1", KeyContentType, "application/json")
	wm := ToWatermill(md)
	if wm.Get(KeyDeviceID) != "dev1" {
		t.Fatalf("expected device id on watermill metadata, got %q", wm.Get(KeyDeviceID))
	}

	back := FromWatermill(message.Metadata{KeySource: "broker"})
	if back[KeySource] != "broker" {
		t.Fatalf("expected source, got %q", back[KeySource])
	}
	if len(FromWatermill(nil)) != 0 || len(ToWatermill(nil)) != 0 {
		t.Fatal("expected empty conversions for nil input")
	}
}
