package passage

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"
)

func TestCurveEndpoints(t *testing.T) {
	curves := []Curve{CurveLinear, CurveExponential, CurveLogarithmic, CurveSCurve}
	for _, c := range curves {
		if got := c.FadeIn(0); got != 0 {
			t.Fatalf("%s fade-in at 0 = %f", c, got)
		}
		if got := c.FadeIn(1); got != 1 {
			t.Fatalf("%s fade-in at 1 = %f", c, got)
		}
		if got := c.FadeOut(0); got != 1 {
			t.Fatalf("%s fade-out at 0 = %f", c, got)
		}
		if got := c.FadeOut(1); got != 0 {
			t.Fatalf("%s fade-out at 1 = %f", c, got)
		}
	}
}

func TestCurveShapes(t *testing.T) {
	if got := CurveLinear.FadeIn(0.25); got != 0.25 {
		t.Fatalf("linear(0.25) = %f", got)
	}
	if got := CurveExponential.FadeIn(0.5); got != 0.25 {
		t.Fatalf("exponential(0.5) = %f", got)
	}
	if got := CurveLogarithmic.FadeIn(0.25); got != 0.5 {
		t.Fatalf("logarithmic(0.25) = %f", got)
	}
	want := 3*0.25 - 2*0.125
	if got := CurveSCurve.FadeIn(0.5); math.Abs(got-want) > 1e-9 {
		t.Fatalf("s_curve(0.5) = %f want %f", got, want)
	}
}

func TestCurveComplement(t *testing.T) {
	for _, c := range []Curve{CurveLinear, CurveExponential, CurveLogarithmic, CurveSCurve} {
		for u := 0.0; u <= 1.0; u += 0.05 {
			sum := c.FadeIn(u) + c.FadeOut(u)
			if math.Abs(sum-1.0) > 1e-9 {
				t.Fatalf("%s in+out at %f = %f", c, u, sum)
			}
		}
	}
}

func TestParseCurve(t *testing.T) {
	if got := ParseCurve("linear", CurveExponential); got != CurveLinear {
		t.Fatalf("parse linear = %s", got)
	}
	if got := ParseCurve("bogus", CurveLogarithmic); got != CurveLogarithmic {
		t.Fatalf("unknown curve should fall back, got %s", got)
	}
	if got := ParseCurve("", CurveSCurve); got != CurveSCurve {
		t.Fatalf("empty curve should fall back, got %s", got)
	}
}

func end(v int64) *int64 { return &v }

func TestValidateClampsEndPastStart(t *testing.T) {
	p := Passage{FilePath: "a.mp3", StartTick: 100, EndTick: end(100)}
	corrections := Validate(&p, zerolog.Nop())

	if *p.EndTick <= p.StartTick {
		t.Fatalf("end not clamped past start: %d", *p.EndTick)
	}
	if len(corrections) == 0 {
		t.Fatal("expected corrections")
	}
}

func TestValidateClampsNegativeStart(t *testing.T) {
	p := Passage{FilePath: "a.mp3", StartTick: -50}
	Validate(&p, zerolog.Nop())
	if p.StartTick != 0 {
		t.Fatalf("negative start not clamped: %d", p.StartTick)
	}
}

func TestValidateOrderingRules(t *testing.T) {
	p := Passage{
		FilePath:    "a.mp3",
		StartTick:   0,
		EndTick:     end(1000),
		FadeInTick:  2000, // past end
		LeadInTick:  -10,  // before start
		LeadOutTick: end(5000),
		FadeOutTick: end(-5),
	}
	Validate(&p, zerolog.Nop())

	if p.FadeInTick > *p.EndTick || p.FadeInTick < p.StartTick {
		t.Fatalf("fade_in out of range: %d", p.FadeInTick)
	}
	if p.LeadInTick < p.StartTick {
		t.Fatalf("lead_in before start: %d", p.LeadInTick)
	}
	if *p.LeadOutTick > *p.EndTick || *p.LeadOutTick < p.LeadInTick {
		t.Fatalf("lead_out out of range: %d", *p.LeadOutTick)
	}
	if *p.FadeOutTick < p.FadeInTick || *p.FadeOutTick > *p.EndTick {
		t.Fatalf("fade_out out of range: %d", *p.FadeOutTick)
	}
}

func TestValidateDefaultsCurves(t *testing.T) {
	p := Passage{FilePath: "a.mp3"}
	Validate(&p, zerolog.Nop())
	if p.FadeInCurve != CurveExponential {
		t.Fatalf("fade-in default = %s", p.FadeInCurve)
	}
	if p.FadeOutCurve != CurveLogarithmic {
		t.Fatalf("fade-out default = %s", p.FadeOutCurve)
	}
}

func TestValidateIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := Passage{
			FilePath:   "a.mp3",
			StartTick:  rapid.Int64Range(-1000, 100000).Draw(rt, "start"),
			FadeInTick: rapid.Int64Range(-1000, 200000).Draw(rt, "fade_in"),
			LeadInTick: rapid.Int64Range(-1000, 200000).Draw(rt, "lead_in"),
		}
		if rapid.Bool().Draw(rt, "has_end") {
			p.EndTick = end(rapid.Int64Range(-1000, 150000).Draw(rt, "end"))
		}
		if rapid.Bool().Draw(rt, "has_lead_out") {
			p.LeadOutTick = end(rapid.Int64Range(-1000, 200000).Draw(rt, "lead_out"))
		}
		if rapid.Bool().Draw(rt, "has_fade_out") {
			p.FadeOutTick = end(rapid.Int64Range(-1000, 200000).Draw(rt, "fade_out"))
		}

		Validate(&p, zerolog.Nop())
		once := p
		if p.EndTick != nil {
			v := *p.EndTick
			once.EndTick = &v
		}
		if p.LeadOutTick != nil {
			v := *p.LeadOutTick
			once.LeadOutTick = &v
		}
		if p.FadeOutTick != nil {
			v := *p.FadeOutTick
			once.FadeOutTick = &v
		}

		corrections := Validate(&p, zerolog.Nop())
		if len(corrections) != 0 {
			rt.Fatalf("second validation still corrected: %+v", corrections)
		}
		if p.StartTick != once.StartTick || p.FadeInTick != once.FadeInTick || p.LeadInTick != once.LeadInTick {
			rt.Fatalf("second validation changed values")
		}
	})
}
