package diskit

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		algorithm ChecksumAlgorithm
		want      string
	}{
		{ChecksumMD5, "5d41402abc4b2a76b9719d911017c592"},
		{ChecksumSHA1, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		{ChecksumSHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{ChecksumCRC32, "3610a686"},
		{ChecksumXXHash, fmt.Sprintf("%016x", xxhash.Sum64String("hello"))},
	}
	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			got, err := CalculateChecksum(strings.NewReader("hello"), tt.algorithm)
			if err != nil {
				t.Fatalf("CalculateChecksum() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CalculateChecksum() = %s, want %s", got, tt.want)
			}
		})
	}

	sum, err := CalculateChecksum(strings.NewReader("hello"), ChecksumSHA512)
	if err != nil || len(sum) != 128 {
		t.Errorf("sha512 = %q, %v", sum, err)
	}

	if _, err := CalculateChecksum(strings.NewReader("hello"), "blake3"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("unknown algorithm error = %v, want ErrNotSupported", err)
	}
}
