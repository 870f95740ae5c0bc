package audio

import "testing"

func TestAcquireSizing(t *testing.T) {
	buf := AcquireBytes(64)
	if len(buf) != 64 {
		t.Fatalf("len=%d, want 64", len(buf))
	}
	ReleaseBytes(buf)

	if AcquireBytes(0) != nil {
		t.Fatal("zero size should return nil")
	}
	if AcquireBytes(-1) != nil {
		t.Fatal("negative size should return nil")
	}

	samples := AcquireInt16(480)
	if len(samples) != 480 {
		t.Fatalf("len=%d, want 480", len(samples))
	}
	ReleaseInt16(samples)

	floats := AcquireFloat32(960)
	if len(floats) != 960 {
		t.Fatalf("len=%d, want 960", len(floats))
	}
	ReleaseFloat32(floats)
}

func TestReleaseNilIsSafe(t *testing.T) {
	ReleaseBytes(nil)
	ReleaseInt16(nil)
	ReleaseFloat32(nil)
}

func TestReacquireAfterRelease(t *testing.T) {
	buf := AcquireBytes(320)
	buf[0] = 0x7f
	ReleaseBytes(buf)

	again := AcquireBytes(160)
	if len(again) != 160 {
		t.Fatalf("len=%d, want 160", len(again))
	}
	ReleaseBytes(again)
}
