package api

// WelcomeResponse is the payload for GET /.
type WelcomeResponse struct {
	CouchDB string `json:"couchdb"`
	Version string `json:"version"`
	UUID    string `json:"uuid"`
	Vendor  Vendor `json:"vendor"`
}

// Vendor identifies the server implementation.
type Vendor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// OKResponse acknowledges a database or document write.
type OKResponse struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id,omitempty"`
	Rev string `json:"rev,omitempty"`
}

// AllDocsResponse is the payload for GET /{db}/_all_docs.
type AllDocsResponse struct {
	TotalRows int   `json:"total_rows"`
	Offset    int   `json:"offset"`
	Rows      []Row `json:"rows"`
}

// Row mirrors backend.Row so the JSON shape is owned here.
type Row struct {
	ID    string   `json:"id"`
	Key   string   `json:"key"`
	Value RowValue `json:"value"`
}

// RowValue holds a row's revision.
type RowValue struct {
	Rev string `json:"rev"`
}

// errorResponse is the CouchDB error body.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}
