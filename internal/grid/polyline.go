package grid

// lerp interpolates between two geographic points at parameter t in [0, 1].
// Linear interpolation in degree space is accurate enough at the segment
// lengths GPS tracks produce.
func lerp(a, b GeoPoint, t float64) GeoPoint {
	return GeoPoint{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// Resample walks the polyline accumulating arc length and emits one projected
// point per stepMeters traveled, interpolating between the bracketing
// vertices when a step boundary falls mid-segment. The first and last input
// points are always included. A non-positive step yields just the endpoints.
func Resample(line []GeoPoint, stepMeters float64) []PlanarPoint {
	if len(line) == 0 {
		return nil
	}
	out := []PlanarPoint{ToPlanar(line[0])}
	if len(line) == 1 {
		return out
	}
	if stepMeters <= 0 {
		return append(out, ToPlanar(line[len(line)-1]))
	}

	total := 0.0
	for i := 1; i < len(line); i++ {
		total += Distance(line[i-1], line[i])
	}

	// Samples that would land exactly on the final vertex are left to the
	// unconditional append below.
	next := stepMeters
	traveled := 0.0
	for i := 1; i < len(line); i++ {
		a, b := line[i-1], line[i]
		seg := Distance(a, b)
		for seg > 0 && next < total && next <= traveled+seg {
			t := (next - traveled) / seg
			out = append(out, ToPlanar(lerp(a, b, t)))
			next += stepMeters
		}
		traveled += seg
	}
	return append(out, ToPlanar(line[len(line)-1]))
}

// TrimEnds removes exactly meters of arc length from each end of the
// polyline, interpolating a new boundary vertex where a cut falls inside a
// segment. When the total length is at most twice the trim distance nothing
// identifiable remains and the result is empty; callers rely on that for
// start and finish privacy.
func TrimEnds(line []GeoPoint, meters float64) []GeoPoint {
	if meters <= 0 {
		out := make([]GeoPoint, len(line))
		copy(out, line)
		return out
	}
	if len(line) < 2 {
		return nil
	}
	total := 0.0
	for i := 1; i < len(line); i++ {
		total += Distance(line[i-1], line[i])
	}
	if total <= 2*meters {
		return nil
	}
	out := cutFront(line, meters)
	reverse(out)
	out = cutFront(out, meters)
	reverse(out)
	if len(out) < 2 {
		return nil
	}
	return out
}

// cutFront removes meters of arc length from the start of the line. It
// returns nil when the line is not longer than meters.
func cutFront(line []GeoPoint, meters float64) []GeoPoint {
	remaining := meters
	for i := 1; i < len(line); i++ {
		seg := Distance(line[i-1], line[i])
		if remaining > seg {
			remaining -= seg
			continue
		}
		out := make([]GeoPoint, 0, len(line)-i+1)
		if remaining < seg {
			out = append(out, lerp(line[i-1], line[i], remaining/seg))
		}
		return append(out, line[i:]...)
	}
	return nil
}

func reverse(line []GeoPoint) {
	for i, j := 0, len(line)-1; i < j; i, j = i+1, j-1 {
		line[i], line[j] = line[j], line[i]
	}
}
