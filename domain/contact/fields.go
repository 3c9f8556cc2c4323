package contact

// Field identifies one canonical column all source schemas are mapped onto
type Field string

const (
	FieldCivility          Field = "civility"
	FieldLastName          Field = "last_name"
	FieldFirstName         Field = "first_name"
	FieldAddress           Field = "address"
	FieldAddressComplement Field = "address_complement"
	FieldPostalCode        Field = "postal_code"
	FieldCity              Field = "city"
	FieldCountry           Field = "country"
	FieldPhone             Field = "phone"
	FieldEmail             Field = "email"
)

// FieldSpec describes how a canonical field is recognised and rendered
type FieldSpec struct {
	Field       Field
	DisplayName string
	Aliases     []string
	// SkipNormalization keeps the value byte-for-byte
	SkipNormalization bool
}

// AliasTable is the ordered list of canonical fields. Order is the resolution order:
// when two fields could claim the same source column, the earlier one wins.
type AliasTable []FieldSpec

// DefaultAliases is the alias table shared by both treatments
var DefaultAliases = AliasTable{
	{Field: FieldCivility, DisplayName: "Civilite", Aliases: []string{"Civilite", "Civilité", "Civ", "Genre"}},
	{Field: FieldLastName, DisplayName: "Nom", Aliases: []string{"Nom", "Nom de famille"}},
	{Field: FieldFirstName, DisplayName: "Prenom", Aliases: []string{"Prenom", "Prénom"}},
	{Field: FieldAddress, DisplayName: "Adresse", Aliases: []string{"Adresse", "Adresse postale"}},
	{Field: FieldAddressComplement, DisplayName: "Complement d'adresse", Aliases: []string{"Complément d'adresse", "Complement adresse"}},
	{Field: FieldPostalCode, DisplayName: "Code Postal", Aliases: []string{"Code Postal", "CP"}},
	{Field: FieldCity, DisplayName: "Ville", Aliases: []string{"Ville", "Commune"}},
	{Field: FieldCountry, DisplayName: "Pays", Aliases: []string{"Pays"}},
	{Field: FieldPhone, DisplayName: "Tel", Aliases: []string{
		"Tel", "Téléphone", "Portable", "Mobile",
		"Merci de nous transmettre ici votre numéro de téléphone",
	}},
	{Field: FieldEmail, DisplayName: "Email", Aliases: []string{"Email", "E-mail", "Mail", "Courriel"}, SkipNormalization: true},
}

// Spec returns the spec of a field, if declared
func (t AliasTable) Spec(f Field) (FieldSpec, bool) {
	for _, spec := range t {
		if spec.Field == f {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// DisplayName returns the output header of a field
func (t AliasTable) DisplayName(f Field) string {
	if spec, ok := t.Spec(f); ok {
		return spec.DisplayName
	}
	return string(f)
}

// Fields lists the declared fields in resolution order
func (t AliasTable) Fields() []Field {
	fields := make([]Field, len(t))
	for i, spec := range t {
		fields[i] = spec.Field
	}
	return fields
}
