package scoring

import (
	"math/bits"
	"testing"
)

func bit(mask uint, i int) bool { return mask&(1<<i) != 0 }

func TestStopBang_AllCombinations(t *testing.T) {
	for mask := uint(0); mask < 1<<8; mask++ {
		f := StopBangFactors{
			Snoring:       bit(mask, 0),
			Tired:         bit(mask, 1),
			ObservedApnea: bit(mask, 2),
			Pressure:      bit(mask, 3),
			BMIOver35:     bit(mask, 4),
			AgeOver50:     bit(mask, 5),
			NeckOver40:    bit(mask, 6),
			Male:          bit(mask, 7),
		}
		got := StopBang(f)
		want := bits.OnesCount(mask)
		if got.Score != want {
			t.Fatalf("mask %08b: score = %d, want %d", mask, got.Score, want)
		}
		if got.ApneaRisk != (want >= 3) {
			t.Fatalf("mask %08b: apnea risk = %v with score %d", mask, got.ApneaRisk, want)
		}
	}
}

func TestStopBang_Edges(t *testing.T) {
	if r := StopBang(StopBangFactors{}); r.Score != 0 || r.ApneaRisk {
		t.Errorf("all false: got %+v", r)
	}
	all := StopBangFactors{true, true, true, true, true, true, true, true}
	if r := StopBang(all); r.Score != 8 || !r.ApneaRisk {
		t.Errorf("all true: got %+v", r)
	}
}

func TestApfel_AllCombinations(t *testing.T) {
	table := map[int]int{0: 10, 1: 21, 2: 39, 3: 61, 4: 79}
	for mask := uint(0); mask < 1<<4; mask++ {
		f := ApfelFactors{
			FemaleSex:     bit(mask, 0),
			NonSmoker:     bit(mask, 1),
			PONVHistory:   bit(mask, 2),
			PostopOpioids: bit(mask, 3),
		}
		got := Apfel(f)
		want := bits.OnesCount(mask)
		if got.Score != want {
			t.Fatalf("mask %04b: score = %d, want %d", mask, got.Score, want)
		}
		if got.PONVRiskPercent != table[want] {
			t.Fatalf("mask %04b: risk = %d, want %d", mask, got.PONVRiskPercent, table[want])
		}
	}
}

func TestLee_AllCombinations(t *testing.T) {
	for mask := uint(0); mask < 1<<6; mask++ {
		f := LeeFactors{
			HighRiskSurgery:        bit(mask, 0),
			IschemicHeartDisease:   bit(mask, 1),
			HeartFailure:           bit(mask, 2),
			CerebrovascularDisease: bit(mask, 3),
			InsulinTherapy:         bit(mask, 4),
			CreatinineOver2:        bit(mask, 5),
		}
		got := Lee(f)
		want := bits.OnesCount(mask)
		if got.Score != want {
			t.Fatalf("mask %06b: score = %d, want %d", mask, got.Score, want)
		}
		var class string
		var pct float64
		switch want {
		case 0:
			class, pct = "I", 0.5
		case 1:
			class, pct = "II", 1
		case 2:
			class, pct = "III", 6
		default:
			class, pct = "IV", 11
		}
		if got.Class != class || got.ComplicationRiskPercent != pct {
			t.Fatalf("mask %06b: got (%s, %v), want (%s, %v)", mask, got.Class, got.ComplicationRiskPercent, class, pct)
		}
	}
}

func TestLookup_Clamps(t *testing.T) {
	if got := lookup(ApfelTable, 12); got != 79 {
		t.Errorf("apfel clamp above = %d, want 79", got)
	}
	if got := lookup(ApfelTable, -1); got != 10 {
		t.Errorf("apfel clamp below = %d, want 10", got)
	}
	if got := lookup(LeeTable, 6); got.Class != "IV" || got.Percent != 11 {
		t.Errorf("lee clamp = %+v", got)
	}
}

func TestPostopPain_SpecExample(t *testing.T) {
	f := PostopPainFactors{
		FemaleSex:         Yes,
		AgeBracket:        AgeOver65,
		PreopPainAtSite:   Yes,
		OpioidUse:         No,
		AntidepressantUse: No,
		TomieSurgery:      No,
		SurgeryType:       SurgeryOrthopedic,
		LongSurgery:       No,
		SevereObesity:     No,
		HighAnxiety:       No,
	}
	got := PostopPain(f)
	if got.Score != 5 {
		t.Errorf("score = %d, want 5", got.Score)
	}
	if !got.SevereRisk {
		t.Error("expected severe risk for score 5")
	}
}

func TestPostopPain_Weights(t *testing.T) {
	tests := []struct {
		name string
		f    PostopPainFactors
		want int
	}{
		{"empty", PostopPainFactors{}, 0},
		{"female", PostopPainFactors{FemaleSex: Yes}, 1},
		{"male answer", PostopPainFactors{FemaleSex: No}, 0},
		{"under 30", PostopPainFactors{AgeBracket: AgeUnder30}, 1},
		{"30 to 65", PostopPainFactors{AgeBracket: Age30To65}, 0},
		{"over 65", PostopPainFactors{AgeBracket: AgeOver65}, 1},
		{"preop pain", PostopPainFactors{PreopPainAtSite: Yes}, 2},
		{"opioids", PostopPainFactors{OpioidUse: Yes}, 2},
		{"antidepressants", PostopPainFactors{AntidepressantUse: Yes}, 1},
		{"tomie", PostopPainFactors{TomieSurgery: Yes}, 2},
		{"orthopedic", PostopPainFactors{SurgeryType: SurgeryOrthopedic}, 1},
		{"thoracic", PostopPainFactors{SurgeryType: SurgeryThoracic}, 1},
		{"abdominal", PostopPainFactors{SurgeryType: SurgeryAbdominal}, 0},
		{"other", PostopPainFactors{SurgeryType: SurgeryOther}, 0},
		{"unknown enum", PostopPainFactors{SurgeryType: "Vasculaire", AgeBracket: "inconnu"}, 0},
		{"long", PostopPainFactors{LongSurgery: Yes}, 1},
		{"obesity", PostopPainFactors{SevereObesity: Yes}, 1},
		{"anxiety", PostopPainFactors{HighAnxiety: Yes}, 2},
		{"lowercase oui is not yes", PostopPainFactors{HighAnxiety: "oui"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PostopPain(tt.f)
			if got.Score != tt.want {
				t.Errorf("score = %d, want %d", got.Score, tt.want)
			}
			if got.SevereRisk != (tt.want > 4) {
				t.Errorf("severe risk = %v for score %d", got.SevereRisk, tt.want)
			}
		})
	}
}

func TestPostopPain_AllAnswerCombinations(t *testing.T) {
	ages := []AgeBracket{"", AgeUnder30, Age30To65, AgeOver65}
	types := []SurgeryType{"", SurgeryOrthopedic, SurgeryThoracic, SurgeryAbdominal, SurgeryOther}
	for mask := uint(0); mask < 1<<8; mask++ {
		for _, age := range ages {
			for _, st := range types {
				f := PostopPainFactors{
					FemaleSex:         AnswerOf(bit(mask, 0)),
					PreopPainAtSite:   AnswerOf(bit(mask, 1)),
					OpioidUse:         AnswerOf(bit(mask, 2)),
					AntidepressantUse: AnswerOf(bit(mask, 3)),
					TomieSurgery:      AnswerOf(bit(mask, 4)),
					LongSurgery:       AnswerOf(bit(mask, 5)),
					SevereObesity:     AnswerOf(bit(mask, 6)),
					HighAnxiety:       AnswerOf(bit(mask, 7)),
					AgeBracket:        age,
					SurgeryType:       st,
				}
				want := 0
				for i, w := range []int{1, 2, 2, 1, 2, 1, 1, 2} {
					if bit(mask, i) {
						want += w
					}
				}
				if age == AgeUnder30 || age == AgeOver65 {
					want++
				}
				if st == SurgeryOrthopedic || st == SurgeryThoracic {
					want++
				}
				got := PostopPain(f)
				if got.Score != want || got.SevereRisk != (want > 4) {
					t.Fatalf("%+v: got %+v, want score %d", f, got, want)
				}
			}
		}
	}
}

func TestPainRules_MaximumIsSumOfWeights(t *testing.T) {
	total := 0
	for _, r := range PainRules {
		total += r.Points
	}
	all := PostopPainFactors{
		FemaleSex: Yes, AgeBracket: AgeOver65, PreopPainAtSite: Yes, OpioidUse: Yes,
		AntidepressantUse: Yes, TomieSurgery: Yes, SurgeryType: SurgeryThoracic,
		LongSurgery: Yes, SevereObesity: Yes, HighAnxiety: Yes,
	}
	if got := PostopPain(all).Score; got != total {
		t.Errorf("all factors = %d, want %d", got, total)
	}
}

func TestBMI(t *testing.T) {
	tests := []struct {
		name   string
		w, h   float64
		want   float64
		wantOK bool
	}{
		{"nominal", 70, 175, 22.9, true},
		{"zero weight", 0, 175, 0, false},
		{"zero height", 70, 0, 0, false},
		{"negative", -70, 175, 0, false},
		{"rounding", 80, 180, 24.7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BMI(tt.w, tt.h)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("BMI(%v, %v) = (%v, %v), want (%v, %v)", tt.w, tt.h, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBMIFromText(t *testing.T) {
	tests := []struct {
		w, h string
		want string
	}{
		{"70", "175", "22.9"},
		{" 70 ", "175", "22.9"},
		{"70,5", "175", "23.0"},
		{"0", "175", ""},
		{"70", "0", ""},
		{"", "175", ""},
		{"abc", "175", ""},
		{"70", "NaN", ""},
		{"70", "Inf", ""},
		{"1e308", "1e-300", ""},
	}
	for _, tt := range tests {
		if got := BMIFromText(tt.w, tt.h); got != tt.want {
			t.Errorf("BMIFromText(%q, %q) = %q, want %q", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestDayAdmission(t *testing.T) {
	f3 := []bool{false, false, false}
	tests := []struct {
		name         string
		strong, weak []bool
		want         Eligibility
	}{
		{"one weak", f3, []bool{true, false, false, false, false}, NeedsReview},
		{"one strong", []bool{true, false, false}, nil, NotAdmitted},
		{"nothing", f3, []bool{false, false, false, false, false}, Admitted},
		{"two weak", f3, []bool{true, true, false, false, false}, NotAdmitted},
		{"strong and weak", []bool{false, false, true}, []bool{true, false, false, false, false}, NotAdmitted},
		{"empty", nil, nil, Admitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayAdmission(tt.strong, tt.weak); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDayAdmissionFactors_ApneaFromStopBang(t *testing.T) {
	f := DayAdmissionFactors{SleepApnea: true}
	if got := f.Classify(false); got != Admitted {
		t.Errorf("manual sleep apnea answer must not count, got %s", got)
	}
	if got := f.Classify(true); got != NotAdmitted {
		t.Errorf("apnea risk is a strong factor, got %s", got)
	}
	weak := DayAdmissionFactors{ReturnsHomeAlone: true}
	if got := weak.Classify(false); got != NeedsReview {
		t.Errorf("got %s, want needs-review", got)
	}
}

func TestDayAdmission_AllCombinations(t *testing.T) {
	for mask := uint(0); mask < 1<<8; mask++ {
		f := DayAdmissionFactors{
			ASAUncontrolled:         bit(mask, 0),
			SignificantBleedingRisk: bit(mask, 1),
			UnaccompaniedOvernight:  bit(mask, 2),
			AgeOver75:               bit(mask, 3),
			UncontrollablePain:      bit(mask, 4),
			ReturnsHomeAlone:        bit(mask, 5),
			DrivesAfterProcedure:    bit(mask, 6),
		}
		apnea := bit(mask, 7)
		strong := bits.OnesCount(mask & 0b10000011)
		weak := bits.OnesCount(mask & 0b01111100)
		want := Admitted
		switch {
		case strong >= 1 || weak >= 2:
			want = NotAdmitted
		case weak == 1:
			want = NeedsReview
		}
		if got := f.Classify(apnea); got != want {
			t.Fatalf("mask %08b: got %s, want %s", mask, got, want)
		}
	}
}

func TestEligibility_Label(t *testing.T) {
	for _, e := range []Eligibility{Admitted, NeedsReview, NotAdmitted} {
		if e.Label() == "" {
			t.Errorf("missing label for %s", e)
		}
	}
	if Eligibility("").Label() != "" {
		t.Error("unknown eligibility should have no label")
	}
}

func TestCalculators_Idempotent(t *testing.T) {
	sb := StopBangFactors{Snoring: true, Male: true, AgeOver50: true}
	if StopBang(sb) != StopBang(sb) {
		t.Error("stop-bang drifted")
	}
	p := PostopPainFactors{FemaleSex: Yes, HighAnxiety: Yes}
	if PostopPain(p) != PostopPain(p) {
		t.Error("postop pain drifted")
	}
	if BMIFromText("70", "175") != BMIFromText("70", "175") {
		t.Error("bmi drifted")
	}
}
