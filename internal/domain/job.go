package domain

import "encoding/json"

// Outcome tags which application bucket a job record belongs to.
type Outcome string

const (
	// OutcomeApplied marks jobs the assistant has applied to.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected marks jobs the assistant has rejected or skipped.
	OutcomeRejected Outcome = "rejected"
)

// JobRecord is a job identifier plus descriptive payload. The engine treats
// the payload as opaque metadata; only the identifier participates in
// uniqueness within a bucket. Advisory records arrive via the push feed and
// may carry nothing but an id and a note.
type JobRecord struct {
	ID       string `json:"id,omitempty"`
	Company  string `json:"company,omitempty"`
	Title    string `json:"title,omitempty"`
	Advisory bool   `json:"advisory,omitempty"`

	// Raw preserves the full server payload for the presentation layer.
	Raw json.RawMessage `json:"-"`
}

// jobRecordAliases covers the field spellings different backend paths use
// for the same job attributes.
type jobRecordAliases struct {
	ID       string `json:"id"`
	JobID    string `json:"job_id"`
	AppID    string `json:"appId"`
	Company  string `json:"company"`
	CompanyN string `json:"company_name"`
	Org      string `json:"org"`
	Title    string `json:"title"`
	JobTitle string `json:"job_title"`
	Position string `json:"position"`
}

// UnmarshalJSON decodes a job record tolerantly, keeping the raw payload.
func (r *JobRecord) UnmarshalJSON(data []byte) error {
	var a jobRecordAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.ID = firstNonEmpty(a.ID, a.JobID, a.AppID)
	r.Company = firstNonEmpty(a.Company, a.CompanyN, a.Org)
	r.Title = firstNonEmpty(a.Title, a.JobTitle, a.Position)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original server payload back out when present.
func (r JobRecord) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain struct {
		ID       string `json:"id,omitempty"`
		Company  string `json:"company,omitempty"`
		Title    string `json:"title,omitempty"`
		Advisory bool   `json:"advisory,omitempty"`
	}
	return json.Marshal(plain{ID: r.ID, Company: r.Company, Title: r.Title, Advisory: r.Advisory})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// JobState is the reconciled applied/rejected view shown in the sidebar.
// Buckets are replaced wholesale on every reconciliation event.
type JobState struct {
	Applied  []JobRecord `json:"applied"`
	Rejected []JobRecord `json:"rejected"`
}

// Clone returns a copy whose bucket slices are independent of the receiver.
func (s JobState) Clone() JobState {
	out := JobState{}
	if s.Applied != nil {
		out.Applied = append([]JobRecord(nil), s.Applied...)
	}
	if s.Rejected != nil {
		out.Rejected = append([]JobRecord(nil), s.Rejected...)
	}
	return out
}
