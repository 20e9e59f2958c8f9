package ids

import "testing"

func TestNewIsValidAndOrdered(t *testing.T) {
	a, b := New(), New()
	if !Valid(a) || !Valid(b) {
		t.Fatalf("generated ids should validate: %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %q then %q", a, b)
	}
}

func TestValidRejectsForeignValues(t *testing.T) {
	for _, s := range []string{"", "   ", "abc", "<script>alert(1)</script>", "01ARZ3NDEKTSV4RRFFQ69G5FAVX"} {
		if Valid(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
