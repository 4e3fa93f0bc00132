package documents

import "testing"

func TestDocument_Derive(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want Status
	}{
		{"consent without content", Document{Kind: KindConsent}, StatusPending},
		{"consent unsigned", Document{Kind: KindConsent, Consent: &Consent{InformationGiven: true}}, StatusPending},
		{"consent name only", Document{Kind: KindConsent, Consent: &Consent{SignatoryName: "Marie Dupont"}}, StatusPending},
		{"consent signed", Document{Kind: KindConsent, Consent: &Consent{InformationGiven: true, SignatoryName: "Marie Dupont", SignedOn: "2024-03-15"}}, StatusSigned},
		{"consent refused", Document{Kind: KindConsent, Consent: &Consent{Refused: true, SignatoryName: "Marie Dupont", SignedOn: "2024-03-15"}}, StatusRefused},
		{"report without content", Document{Kind: KindReport}, StatusDraft},
		{"report empty sections", Document{Kind: KindReport, Report: &Report{Title: "CR", Sections: []Section{{Title: "Induction"}}}}, StatusDraft},
		{"report written", Document{Kind: KindReport, Report: &Report{Title: "CR", Sections: []Section{{Title: "Induction", Body: "propofol"}}}}, StatusWritten},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.doc
			d.Derive()
			if d.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Status)
			}
		})
	}
}

func TestDocument_DeriveTitle(t *testing.T) {
	d := Document{Kind: KindReport, Report: &Report{Title: "Compte rendu d'anesthésie"}}
	d.Derive()
	if d.Title != "Compte rendu d'anesthésie" {
		t.Errorf("unexpected title %q", d.Title)
	}
	c := Document{Kind: KindConsent}
	c.Derive()
	if c.Title != "Consentement à l'anesthésie" {
		t.Errorf("unexpected title %q", c.Title)
	}
}
