package grid

import "testing"

func TestManhattan(t *testing.T) {
	a := At("w", 1, 2, 3)
	b := At("w", -1, 5, 3)
	if got := Manhattan(a, b); got != 5 {
		t.Fatalf("Manhattan=%d, want 5", got)
	}
}

func TestNeighbors_FaceOrder(t *testing.T) {
	p := At("w", 0, 0, 0)
	got := p.Neighbors()
	want := [6]Pos{
		At("w", 0, 0, -1),
		At("w", 1, 0, 0),
		At("w", 0, 0, 1),
		At("w", -1, 0, 0),
		At("w", 0, 1, 0),
		At("w", 0, -1, 0),
	}
	if got != want {
		t.Fatalf("Neighbors=%v, want %v", got, want)
	}
	for _, n := range got {
		if Manhattan(p, n) != 1 {
			t.Fatalf("neighbor %v not adjacent", n)
		}
	}
}

func TestLess_IgnoresWorld(t *testing.T) {
	if !Less(At("b", 0, 9, 9), At("a", 1, 0, 0)) {
		t.Fatalf("x should dominate")
	}
	if !Less(At("a", 1, 0, 5), At("a", 1, 1, 0)) {
		t.Fatalf("y should dominate z")
	}
	if Less(At("a", 1, 1, 1), At("b", 1, 1, 1)) {
		t.Fatalf("equal coordinates must not be less")
	}
}

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		k        Kind
		conduit  bool
		endpoint bool
	}{
		{KindNone, false, false},
		{KindPipe, true, false},
		{KindEndpoint, true, true},
		{KindOutput, true, true},
		{KindInput, true, true},
		{KindContainer, false, false},
	}
	for _, c := range cases {
		if c.k.IsConduit() != c.conduit || c.k.IsEndpoint() != c.endpoint {
			t.Fatalf("%s: conduit=%v endpoint=%v", c.k, c.k.IsConduit(), c.k.IsEndpoint())
		}
	}
}

func TestItemStackEmpty(t *testing.T) {
	if !(ItemStack{}).Empty() || !(ItemStack{Item: "COAL"}).Empty() || (ItemStack{Item: "COAL", Count: 1}).Empty() {
		t.Fatalf("Empty() mismatch")
	}
}
