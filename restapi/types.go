package restapi

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID accepts identifiers the backend sends either as JSON strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Tokens is the password login response.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
	Message      string `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type HistoryEntry struct {
	ID          ID     `json:"id"`
	FMRIID      ID     `json:"fmri_id"`
	FileName    string `json:"file_name"`
	CreatedAt   string `json:"created_at"`
	ModelResult *int   `json:"model_result,omitempty"`
}

// ScanID is the identifier used by the results endpoints.
func (h HistoryEntry) ScanID() string {
	if h.FMRIID != "" {
		return h.FMRIID.String()
	}
	return h.ID.String()
}

// Slice2D is one axial slice with its atlas overlay. The arrays are passed through
// undecoded for the plotting layer.
type Slice2D struct {
	Brain    json.RawMessage `json:"brain"`
	Atlas    json.RawMessage `json:"atlas"`
	Labels   json.RawMessage `json:"labels"`
	MaxIndex int             `json:"max_index"`
}

type VolumeFile struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type Prediction struct {
	ModelResult int `json:"model_result"`
}

// Label is the text shown for the classifier output.
func (p Prediction) Label() string {
	switch p.ModelResult {
	case 1:
		return "Probable to be Autistic"
	case 0:
		return "Probable to be Neurotypical"
	}
	return "Unknown result " + strconv.Itoa(p.ModelResult)
}

type UploadResult struct {
	FMRIID ID `json:"fmri_id"`
}
