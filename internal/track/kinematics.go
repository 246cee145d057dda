package track

// Kinematics is the speed and course shown for one fix.
type Kinematics struct {
	SpeedKmh float64
	// Heading is only ever the device-reported course; nil when not reported.
	Heading *float64
	// Derived is true when SpeedKmh was computed from the previous fix.
	Derived bool
}

// DeriveSpeedHeading returns the kinematics for cur. A reported speed above
// zero wins. Otherwise the speed is the great-circle distance from prev over
// the elapsed hours, or 0 without a usable previous fix. The course is never
// synthesized from consecutive positions.
func DeriveSpeedHeading(prev *Fix, cur Fix) Kinematics {
	k := Kinematics{Heading: cur.Heading}

	if cur.Speed != nil && *cur.Speed > 0 {
		k.SpeedKmh = *cur.Speed
		return k
	}
	if prev == nil {
		return k
	}

	k.Derived = true
	hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
	if hours <= 0 {
		return k
	}
	k.SpeedKmh = DistanceKm(*prev, cur) / hours
	return k
}

// AnnotatedFix is a fix together with its display kinematics.
type AnnotatedFix struct {
	Fix
	Kinematics
}

// Annotate runs DeriveSpeedHeading along a sequence, each fix measured
// against its predecessor.
func Annotate(fixes []Fix) []AnnotatedFix {
	out := make([]AnnotatedFix, len(fixes))
	for i, f := range fixes {
		var prev *Fix
		if i > 0 {
			prev = &fixes[i-1]
		}
		out[i] = AnnotatedFix{Fix: f, Kinematics: DeriveSpeedHeading(prev, f)}
	}
	return out
}

// Resolved returns the fix with its speed replaced by the display speed.
func (a AnnotatedFix) Resolved() Fix {
	f := a.Fix
	f.Speed = Float64(a.SpeedKmh)
	return f
}

// ResolveSpeeds fills every fix's speed with its display value.
func ResolveSpeeds(fixes []Fix) []Fix {
	annotated := Annotate(fixes)
	out := make([]Fix, len(annotated))
	for i, a := range annotated {
		out[i] = a.Resolved()
	}
	return out
}
