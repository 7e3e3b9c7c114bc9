package auth

import (
	"encoding/json"
	"sort"
)

// Result is the outcome of one authentication round trip. The authenticated
// flag is only ever set by the Orchestrator.
type Result struct {
	Token       string
	Credentials map[string]string

	authenticated bool
}

// IsAuthenticated reports whether the result came from a completed round trip.
func (r Result) IsAuthenticated() bool {
	return r.authenticated
}

// Credential returns a single credential value.
func (r Result) Credential(name string) string {
	return r.Credentials[name]
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	out := r
	if r.Credentials != nil {
		out.Credentials = make(map[string]string, len(r.Credentials))
		for k, v := range r.Credentials {
			out.Credentials[k] = v
		}
	}
	return out
}

// MarshalJSON never exposes the secret material, only what was collected.
func (r Result) MarshalJSON() ([]byte, error) {
	fields := make([]string, 0, len(r.Credentials))
	for k, v := range r.Credentials {
		if v != "" {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return json.Marshal(struct {
		IsAuthenticated  bool     `json:"isAuthenticated"`
		HasToken         bool     `json:"hasToken"`
		CredentialFields []string `json:"credentialFields,omitempty"`
	}{
		IsAuthenticated:  r.authenticated,
		HasToken:         r.Token != "",
		CredentialFields: fields,
	})
}
