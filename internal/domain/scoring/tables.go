package scoring

// Breakpoint maps a score to a value. Tables are ordered by ascending Score.
type Breakpoint[V any] struct {
	Score int
	Value V
}

// LeeRisk is the class and 30-day major cardiac complication rate for a Lee score.
type LeeRisk struct {
	Class   string
	Percent float64
}

// ApfelTable maps the Apfel score to the 24h PONV incidence in percent.
var ApfelTable = []Breakpoint[int]{
	{0, 10},
	{1, 21},
	{2, 39},
	{3, 61},
	{4, 79},
}

// LeeTable maps the Lee score to its risk class. Scores above 2 share class IV.
var LeeTable = []Breakpoint[LeeRisk]{
	{0, LeeRisk{Class: "I", Percent: 0.5}},
	{1, LeeRisk{Class: "II", Percent: 1}},
	{2, LeeRisk{Class: "III", Percent: 6}},
	{3, LeeRisk{Class: "IV", Percent: 11}},
}

// lookup returns the value of the last breakpoint whose score is <= score.
// Scores past the last breakpoint collapse into it, scores before the first
// one take the first value.
func lookup[V any](table []Breakpoint[V], score int) V {
	v := table[0].Value
	for _, bp := range table {
		if bp.Score > score {
			break
		}
		v = bp.Value
	}
	return v
}
