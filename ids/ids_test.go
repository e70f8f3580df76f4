package ids

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDropTokenStringRoundTrip(t *testing.T) {
	want := NewDropToken()
	got, err := ParseDropToken(want.String())
	if err != nil {
		t.Fatalf("ParseDropToken: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v want %v", got, want)
	}
}

func TestDropTokenTextMarshalRoundTrip(t *testing.T) {
	want := NewDropToken()
	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got DropToken
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v want %v", got, want)
	}
}

func TestDropTokenYAMLRoundTrip(t *testing.T) {
	want := NewDropToken()
	data, err := yaml.Marshal(want)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}
	var got DropToken
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v want %v", got, want)
	}
}

func TestDataflowIdStringRoundTrip(t *testing.T) {
	want := NewDataflowId()
	got, err := ParseDataflowId(want.String())
	if err != nil {
		t.Fatalf("ParseDataflowId: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %v want %v", got, want)
	}
}

func TestParseDropTokenRejectsGarbage(t *testing.T) {
	if _, err := ParseDropToken("not-a-uuid"); err == nil {
		t.Fatal("expected an error parsing a non-UUID string")
	}
}
