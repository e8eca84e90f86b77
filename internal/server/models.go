package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// SubmitRequest is the body of POST /api/research.
type SubmitRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Async    bool   `json:"async,omitempty"`
}

// AcceptedResponse is returned for asynchronous submissions.
type AcceptedResponse struct {
	ThreadID string `json:"thread_id"`
	JobID    string `json:"job_id"`
}

// ResumeRequest is the body of POST /api/research/:thread_id/resume.
type ResumeRequest struct {
	Action string `json:"action"`
}

// DocumentRequest is the body of POST /api/documents. Only plain text is
// accepted.
type DocumentRequest struct {
	ID    string `json:"id"`
	JobID string `json:"job_id,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Text  string `json:"text"`
}

// DocumentResponse acknowledges an indexed document.
type DocumentResponse struct {
	ID    string `json:"id"`
	JobID string `json:"job_id,omitempty"`
	Chars int    `json:"chars"`
}
