package main

import "testing"

func TestValidateFlags(t *testing.T) {
	cases := []struct {
		name        string
		phone       string
		accountID   string
		accountName string
		wantErr     bool
	}{
		{"missing phone", "", "acct-1", "", true},
		{"blank phone", "   ", "acct-1", "", true},
		{"missing both account selectors", "+15551234567", "", "", true},
		{"both account selectors", "+15551234567", "acct-1", "Glow Medspa", true},
		{"account id only", "+15551234567", "acct-1", "", false},
		{"account name only", "+15551234567", "", "Glow Medspa", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateFlags(tc.phone, tc.accountID, tc.accountName)
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestConfirmed(t *testing.T) {
	yes := []string{"y\n", "Y\n", "yes\n", "YES\n", "  yes  \n"}
	for _, in := range yes {
		if !confirmed(in) {
			t.Fatalf("expected %q to be confirmed", in)
		}
	}

	no := []string{"n\n", "no\n", "\n", "", "maybe\n"}
	for _, in := range no {
		if confirmed(in) {
			t.Fatalf("expected %q to not be confirmed", in)
		}
	}
}
