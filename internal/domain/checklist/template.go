package checklist

// DefaultPhases is the operating room safety checklist used when a new
// checklist is created without items.
func DefaultPhases() Phases {
	return Phases{
		BeforeInduction: []Item{
			{Code: "identity", Label: "Identité du patient confirmée"},
			{Code: "procedure", Label: "Intervention et site opératoire confirmés"},
			{Code: "site_marking", Label: "Site marqué"},
			{Code: "installation", Label: "Installation connue de l'équipe"},
			{Code: "equipment", Label: "Matériel et documents nécessaires présents"},
			{Code: "anesthesia_check", Label: "Vérification de la sécurité anesthésique"},
			{Code: "allergy", Label: "Allergie connue vérifiée"},
			{Code: "airway", Label: "Risque d'intubation difficile évalué"},
			{Code: "bleeding", Label: "Risque de saignement important évalué"},
		},
		BeforeIncision: []Item{
			{Code: "team_check", Label: "Vérification ultime croisée au sein de l'équipe"},
			{Code: "critical_steps", Label: "Partage des informations essentielles"},
			{Code: "antibiotic", Label: "Antibioprophylaxie effectuée"},
			{Code: "imaging", Label: "Imagerie disponible"},
		},
		AfterIntervention: []Item{
			{Code: "procedure_recorded", Label: "Intervention enregistrée"},
			{Code: "counts", Label: "Décompte final des compresses et instruments conforme"},
			{Code: "specimens", Label: "Étiquetage des prélèvements conforme"},
			{Code: "incidents", Label: "Événements indésirables signalés"},
			{Code: "postop_orders", Label: "Prescriptions postopératoires faites"},
		},
	}
}

// withDefaults fills empty phases with the default items.
func withDefaults(p Phases) Phases {
	d := DefaultPhases()
	if len(p.BeforeInduction) == 0 {
		p.BeforeInduction = d.BeforeInduction
	}
	if len(p.BeforeIncision) == 0 {
		p.BeforeIncision = d.BeforeIncision
	}
	if len(p.AfterIntervention) == 0 {
		p.AfterIntervention = d.AfterIntervention
	}
	return p
}
