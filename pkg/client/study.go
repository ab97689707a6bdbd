package client

// Study is one registry study as decoded from JSON. Numbers are json.Number.
type Study = map[string]any

// IdentifierPath locates the canonical study identifier within a Study.
var IdentifierPath = []string{"ProtocolSection", "IdentificationModule", "NCTId"}

// StudyIdentifier returns the canonical identifier of s, or false if the path
// is missing or does not hold a string.
func StudyIdentifier(s Study) (string, bool) {
	var node any = s
	for _, key := range IdentifierPath {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false
		}
		node, ok = m[key]
		if !ok {
			return "", false
		}
	}
	id, ok := node.(string)
	return id, ok
}

// fullStudiesResponse is the registry search response envelope.
type fullStudiesResponse struct {
	FullStudiesResponse struct {
		APIVrs           string `json:"APIVrs"`
		NStudiesFound    int    `json:"NStudiesFound"`
		NStudiesReturned int    `json:"NStudiesReturned"`
		FullStudies      []struct {
			Rank  int   `json:"Rank"`
			Study Study `json:"Study"`
		} `json:"FullStudies"`
	} `json:"FullStudiesResponse"`
}
