package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{
		CreatedAt: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		ID:        "ord_01HZXW",
	}

	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("EncodeToken returned empty token for non-zero cursor")
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, cursor)
	}
}

func TestEncodeTokenZeroCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token != "" {
		t.Fatalf("zero cursor should encode to empty token, got %q", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"!!!", "bm90IGpzb24", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Errorf("DecodeToken(%q) error = %v, want ErrInvalidPageToken", token, err)
		}
	}
}

func TestDecodeTokenEmpty(t *testing.T) {
	cursor, err := DecodeToken("  ")
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.IsZero() {
		t.Fatalf("expected zero cursor, got %+v", cursor)
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct {
		requested, fallback, max, want int
	}{
		{0, 20, 100, 20},
		{-5, 20, 100, 20},
		{50, 20, 100, 50},
		{500, 20, 100, 100},
	}
	for _, tc := range cases {
		if got := ClampPageSize(tc.requested, tc.fallback, tc.max); got != tc.want {
			t.Errorf("ClampPageSize(%d, %d, %d) = %d, want %d", tc.requested, tc.fallback, tc.max, got, tc.want)
		}
	}
}
