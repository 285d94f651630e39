package trade

import "testing"

func TestInFlightTracksChainsAndOrders(t *testing.T) {
	f := NewInFlight()
	f.Add(111, "111_order_1", "111_order_2", "111_order_3")
	f.Add(222, "222_order_1")

	if f.Chains() != 2 || f.Orders() != 4 {
		t.Fatalf("got %d chains / %d orders, want 2/4", f.Chains(), f.Orders())
	}

	f.MarkDone("111_order_2")
	if f.Chains() != 2 || f.Orders() != 3 {
		t.Errorf("got %d chains / %d orders after one fill, want 2/3", f.Chains(), f.Orders())
	}

	f.MarkDone("111_order_1")
	f.MarkDone("111_order_3")
	if f.Chains() != 1 {
		t.Errorf("chain 111 should disappear with its last order, got %d chains", f.Chains())
	}
}

func TestInFlightIgnoresForeignAndUnknownIDs(t *testing.T) {
	f := NewInFlight()
	f.Add(111, "111_order_1")

	f.MarkDone("manual-web-123") // not our shape
	f.MarkDone("999_order_1")    // ours, but never registered
	f.MarkDone("111_order_9")    // unknown leg

	if f.Chains() != 1 || f.Orders() != 1 {
		t.Errorf("got %d chains / %d orders, want the tracker untouched", f.Chains(), f.Orders())
	}
}
