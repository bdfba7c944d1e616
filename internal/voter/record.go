// Package voter parses the recognised text of one voter-roll cell into a
// structured record.
package voter

// Columns is the header row of every export, in record field order.
var Columns = []string{"VoterID", "VoterName", "RelativeName", "HouseNumber", "Age", "Gender"}

// Record is one voter entry. Every field is an opaque, possibly empty
// string: OCR noise makes strict typing brittle, so coercion and validation
// are left to consumers.
type Record struct {
	VoterID      string `json:"voterId"`
	VoterName    string `json:"voterName"`
	RelativeName string `json:"relativeName"`
	HouseNumber  string `json:"houseNumber"`
	Age          string `json:"age"`
	Gender       string `json:"gender"`
}

// Values returns the fields in Columns order.
func (r Record) Values() []string {
	return []string{r.VoterID, r.VoterName, r.RelativeName, r.HouseNumber, r.Age, r.Gender}
}

// Empty reports whether no field was extracted.
func (r Record) Empty() bool {
	for _, v := range r.Values() {
		if v != "" {
			return false
		}
	}
	return true
}

// FromValues builds a record from a Columns-ordered slice. Missing trailing
// values are left empty.
func FromValues(values []string) Record {
	get := func(i int) string {
		if i < len(values) {
			return values[i]
		}
		return ""
	}
	return Record{
		VoterID:      get(0),
		VoterName:    get(1),
		RelativeName: get(2),
		HouseNumber:  get(3),
		Age:          get(4),
		Gender:       get(5),
	}
}
