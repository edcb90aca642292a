package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultChecklist ResultType = "checklist"
	ResultItem      ResultType = "item"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	ChecklistID string     `json:"checklistId"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ChecklistRecord is the data we index for a checklist.
type ChecklistRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemRecord is the data we index for a checklist item.
type ItemRecord struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	ChecklistID string `json:"checklistId"`
}
