package catalog

// FieldDefinition is one field a document may display.
// Name is the unique key; Source is the data path into the applicant's form data.
// Position is never stored: a field's position is its index in an ordered list.
type FieldDefinition struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Source    string `json:"source"`
	Visible   bool   `json:"visible"`
	Multiline bool   `json:"multiline"`
	Required  bool   `json:"required"` // catalog-owned; layouts cannot override it
}

// Resolver supplies the canonical list of fields a document may show.
type Resolver interface {
	Resolve() []FieldDefinition
}

var admissionForm = []FieldDefinition{
	{Name: "student_name", Label: "Student Name", Source: "name", Visible: true, Required: true},
	{Name: "date_of_birth", Label: "Date of Birth", Source: "date_of_birth", Visible: true},
	{Name: "gender", Label: "Gender", Source: "gender", Visible: true},
	{Name: "class_applied", Label: "Class Applying For", Source: "class", Visible: true},
	{Name: "previous_school", Label: "Previous School", Source: "previous_school", Visible: true},
	{Name: "father_name", Label: "Father's Name", Source: "father_name", Visible: true},
	{Name: "mother_name", Label: "Mother's Name", Source: "mother_name", Visible: true},
	{Name: "guardian_phone", Label: "Guardian Phone", Source: "phone", Visible: true},
	{Name: "email", Label: "Email", Source: "email", Visible: true},
	{Name: "present_address", Label: "Present Address", Source: "address.present", Visible: true, Multiline: true},
	{Name: "permanent_address", Label: "Permanent Address", Source: "address.permanent", Visible: true, Multiline: true},
	{Name: "blood_group", Label: "Blood Group", Source: "blood_group", Visible: true},
	{Name: "religion", Label: "Religion", Source: "religion", Visible: true},
	{Name: "nationality", Label: "Nationality", Source: "nationality", Visible: true},
	{Name: "remarks", Label: "Remarks", Source: "remarks", Visible: false, Multiline: true},
}

type staticResolver struct {
	fields []FieldDefinition
}

var _ Resolver = (*staticResolver)(nil)

// NewResolver returns the admission form catalog.
func NewResolver() Resolver {
	return &staticResolver{fields: admissionForm}
}

// NewStaticResolver returns a Resolver over the given fields. Mostly used in tests.
func NewStaticResolver(fields []FieldDefinition) Resolver {
	return &staticResolver{fields: fields}
}

// Resolve returns a fresh copy; callers may modify it.
func (r *staticResolver) Resolve() []FieldDefinition {
	fields := make([]FieldDefinition, len(r.fields))
	copy(fields, r.fields)
	return fields
}

// Lookup finds a catalog field by name.
func Lookup(fields []FieldDefinition, name string) (FieldDefinition, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

func Names(fields []FieldDefinition) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

// AllVisible returns a copy of fields with every field visible.
func AllVisible(fields []FieldDefinition) []FieldDefinition {
	out := make([]FieldDefinition, len(fields))
	for i, f := range fields {
		f.Visible = true
		out[i] = f
	}
	return out
}
