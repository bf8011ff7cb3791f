package account

import "testing"

func TestUserConfig_Active(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{StatusActive, true},
		{StatusSuspended, false},
		{StatusClosed, false},
		{"", false},
	}
	for _, c := range cases {
		u := UserConfig{Status: c.status}
		if got := u.Active(); got != c.want {
			t.Errorf("UserConfig{Status: %q}.Active() = %v, want %v", c.status, got, c.want)
		}
	}
}
