package audio

import (
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768, 42}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Errorf("encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("empty samples should be rejected")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("zero sample rate should be rejected")
	}
}

func TestDecodeWAVValidation(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("short")); err == nil {
		t.Error("truncated data should be rejected")
	}

	valid, err := EncodeWAV([]int16{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Corrupt the RIFF magic.
	bad := append([]byte(nil), valid...)
	bad[0] = 'X'
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("corrupted RIFF header should be rejected")
	}

	// Claim stereo.
	bad = append([]byte(nil), valid...)
	bad[22] = 2
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("stereo should be rejected")
	}
}
