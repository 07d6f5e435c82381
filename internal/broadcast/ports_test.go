package broadcast

import "testing"

func TestPortRefs_FirstAndLastRef(t *testing.T) {
	r := newPortRefs()

	if first := r.addRef(7777, "profile-a"); !first {
		t.Fatal("first addRef should report first=true")
	}
	if first := r.addRef(7777, "profile-b"); first {
		t.Fatal("second addRef on same port should report first=false")
	}

	if last := r.release(7777, "profile-a"); last {
		t.Fatal("releasing one of two owners should not report last=true")
	}
	if last := r.release(7777, "profile-b"); !last {
		t.Fatal("releasing the final owner should report last=true")
	}
}

func TestPortRefs_ReleaseOwnerDrainsAllPorts(t *testing.T) {
	r := newPortRefs()
	r.addRef(1900, "owner-x")
	r.addRef(5353, "owner-x")
	r.addRef(5353, "owner-y")

	drained := r.releaseOwner("owner-x")
	if len(drained) != 1 || drained[0] != 1900 {
		t.Fatalf("releaseOwner drained = %v, want [1900]", drained)
	}

	active := r.activePorts()
	if len(active) != 1 || active[0] != 5353 {
		t.Fatalf("activePorts = %v, want [5353]", active)
	}
}

func TestPortRefs_ReleaseUnknownPortIsNoop(t *testing.T) {
	r := newPortRefs()
	if last := r.release(9999, "nobody"); last {
		t.Fatal("releasing an unknown port should not report last=true")
	}
}
