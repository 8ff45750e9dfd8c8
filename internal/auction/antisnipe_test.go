package auction

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestPolicy_Apply(t *testing.T) {
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	p := Policy{GracePeriod: 300 * time.Second, Extension: 300 * time.Second}

	end, extended := p.Apply(now.Add(100*time.Second), now, 0)
	check.True(t, extended)
	check.Equal(t, now.Add(400*time.Second), end)

	end, extended = p.Apply(now.Add(300*time.Second), now, 0)
	check.False(t, extended)
	check.Equal(t, now.Add(300*time.Second), end)

	// Uncapped policies keep compounding.
	end, extended = p.Apply(now.Add(10*time.Second), now, 25)
	check.True(t, extended)
	check.Equal(t, now.Add(310*time.Second), end)
}

func TestPolicy_MaxExtensions(t *testing.T) {
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	p := Policy{GracePeriod: time.Minute, Extension: time.Minute, MaxExtensions: 2}

	_, extended := p.Apply(now.Add(time.Second), now, 1)
	check.True(t, extended)

	end, extended := p.Apply(now.Add(time.Second), now, 2)
	check.False(t, extended)
	check.Equal(t, now.Add(time.Second), end)
}

func TestPolicy_Disabled(t *testing.T) {
	now := time.Now()
	end, extended := Policy{}.Apply(now.Add(time.Second), now, 0)
	check.False(t, extended)
	check.Equal(t, now.Add(time.Second), end)
}
