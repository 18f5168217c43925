package strategy

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pct(v int) *int { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "empty object", raw: `{}`},
		{name: "whitelist only", raw: `{"whitelist":["a","b"]}`},
		{name: "percentage only", raw: `{"percentage":30}`},
		{name: "both", raw: `{"whitelist":["a"],"percentage":100}`},
		{name: "zero percentage", raw: `{"percentage":0}`},
		{name: "broken json", raw: `{`, wantErr: true},
		{name: "negative percentage", raw: `{"percentage":-1}`, wantErr: true},
		{name: "percentage over 100", raw: `{"percentage":101}`, wantErr: true},
		{name: "whitelist wrong type", raw: `{"whitelist":"a"}`, wantErr: true},
		{name: "trailing data", raw: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEvaluate_WhitelistWins(t *testing.T) {
	for _, p := range []*int{nil, pct(0), pct(50), pct(100)} {
		payload := Payload{Whitelist: []string{"vip"}, Percentage: p}
		assert.True(t, Evaluate("checkout.new", payload, "vip"))
	}
}

func TestEvaluate_Edges(t *testing.T) {
	assert.False(t, Evaluate("k", Payload{}, "anyone"), "no gate means off")
	assert.False(t, Evaluate("k", Payload{Whitelist: []string{"a"}}, "b"))

	for i := range 200 {
		subject := fmt.Sprintf("user-%d", i)
		assert.False(t, Evaluate("k", Payload{Percentage: pct(0)}, subject))
		assert.True(t, Evaluate("k", Payload{Percentage: pct(100)}, subject))
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	p := Payload{Percentage: pct(37)}
	for i := range 100 {
		subject := fmt.Sprintf("subject-%d", i)
		first := Evaluate("search.ranking", p, subject)
		for range 5 {
			require.Equal(t, first, Evaluate("search.ranking", p, subject))
		}
	}
}

func TestEvaluate_Distribution(t *testing.T) {
	const samples = 20000
	for _, percentage := range []int{1, 10, 25, 50, 90} {
		enabled := 0
		p := Payload{Percentage: pct(percentage)}
		for i := range samples {
			if Evaluate("payments.v2", p, fmt.Sprintf("u-%d", i)) {
				enabled++
			}
		}
		got := float64(enabled) / samples
		assert.LessOrEqualf(t, math.Abs(got-float64(percentage)/100), 0.02,
			"percentage %d: got fraction %.4f", percentage, got)
	}
}

func TestBucket_IndependentPerKey(t *testing.T) {
	same := 0
	const n = 1000
	for i := range n {
		subject := fmt.Sprintf("u-%d", i)
		if Bucket("flag.a", subject) == Bucket("flag.b", subject) {
			same++
		}
	}
	// Independent buckets collide about 1% of the time.
	assert.Less(t, same, n/20)
}
