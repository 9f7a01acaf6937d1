package model

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestDetailSplits(t *testing.T) {
	metric := []Split{{Split: 1, Distance: 1000, MovingTime: 300}}
	standard := []Split{{Split: 1, Distance: 1609.34, MovingTime: 480}}

	tests := []struct {
		name     string
		detail   Detail
		wantOK   bool
		wantUnit SplitUnit
	}{
		{"metric preferred", Detail{SplitsMetric: metric, SplitsStandard: standard}, true, SplitsMetric},
		{"standard only", Detail{SplitsStandard: standard}, true, SplitsStandard},
		{"none", Detail{}, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.detail.Splits()
			if ok != tc.wantOK {
				t.Fatalf("expected ok %v, got %v", tc.wantOK, ok)
			}
			if got.Unit != tc.wantUnit {
				t.Errorf("expected unit %q, got %q", tc.wantUnit, got.Unit)
			}
		})
	}
}

func TestStreamSetColumn(t *testing.T) {
	var empty StreamSet
	v, err := empty.Value()
	if err != nil || v != nil {
		t.Errorf("expected NULL for an empty stream set, got %v, %v", v, err)
	}

	s := StreamSet{Time: []int{0, 1}, HeartRate: []float64{120, 121}}
	v, err = s.Value()
	if err != nil {
		t.Fatal(err)
	}

	var got StreamSet
	if err := got.Scan([]byte(v.(string))); err != nil {
		t.Fatal(err)
	}
	if len(got.HeartRate) != 2 || got.HeartRate[1] != 121 || got.Velocity != nil {
		t.Errorf("expected heart rate channel only, got %+v", got)
	}

	if err := got.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUserToken(t *testing.T) {
	u := &User{}
	tok, err := u.Token()
	if err != nil || tok.AccessToken != "" {
		t.Fatalf("expected empty token for a new user, got %+v, %v", tok, err)
	}

	expiry := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := u.SetToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}); err != nil {
		t.Fatal(err)
	}
	tok, err = u.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || !tok.Expiry.Equal(expiry) {
		t.Errorf("expected stored token to round trip, got %+v", tok)
	}
}
