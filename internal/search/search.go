package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultVocabulary ResultType = "vocabulary"
	ResultUser       ResultType = "user"
)

// ParseResultType accepts "", "vocabulary" and "user". Anything else is ok=false.
func ParseResultType(raw string) (ResultType, bool) {
	switch ResultType(raw) {
	case "", ResultVocabulary, ResultUser:
		return ResultType(raw), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Language string     `json:"language,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	// Language only narrows vocabulary hits.
	Language string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// IDs returns the ids of results of type t, in rank order.
func (r Response) IDs(t ResultType) []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Type == t {
			out = append(out, res.ID)
		}
	}
	return out
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexVocabulary(v VocabularyRecord) error
	IndexUser(u UserRecord) error
	DeleteVocabulary(id string) error
	DeleteUser(id string) error
}

// VocabularyRecord is the data we index for a vocabulary term.
type VocabularyRecord struct {
	ID         string   `json:"id"`
	Language   string   `json:"language"`
	Term       string   `json:"term"`
	Definition string   `json:"definition"`
	Category   string   `json:"category"`
	Synonyms   []string `json:"synonyms"`
}

// UserRecord is the data we index for a user. Password hashes never leave the store.
type UserRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	TierID      string `json:"tierId"`
}
