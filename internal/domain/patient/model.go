package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Identifier is the hospital patient
// number and is unique among live rows.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Identifier string     `db:"identifier" json:"identifier"`
	FamilyName string     `db:"family_name" json:"family_name"`
	GivenName  string     `db:"given_name" json:"given_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Sex        *string    `db:"sex" json:"sex,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName is the "FAMILY Given" form printed on documents.
func (p *Patient) DisplayName() string {
	switch {
	case p.FamilyName == "":
		return p.GivenName
	case p.GivenName == "":
		return p.FamilyName
	}
	return p.FamilyName + " " + p.GivenName
}
