package network

import "testing"

func TestIPLimiterConnCap(t *testing.T) {
	lim := newIPLimiter(1)
	if !lim.acquire("1.2.3.4") {
		t.Fatalf("expected first conn acquire")
	}
	if lim.acquire("1.2.3.4") {
		t.Fatalf("expected conn cap")
	}
	lim.release("1.2.3.4")
	if !lim.acquire("1.2.3.4") {
		t.Fatalf("expected acquire after release")
	}
}

func TestIPLimiterSeparateIPs(t *testing.T) {
	lim := newIPLimiter(1)
	if !lim.acquire("1.2.3.4") {
		t.Fatalf("expected first conn")
	}
	if !lim.acquire("2.3.4.5") {
		t.Fatalf("expected separate ip conn")
	}
}

func TestIPLimiterUnlimited(t *testing.T) {
	lim := newIPLimiter(0)
	for i := 0; i < 10; i++ {
		if !lim.acquire("1.2.3.4") {
			t.Fatalf("unlimited limiter refused conn %d", i)
		}
	}
}
