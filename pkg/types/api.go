package types

// SubmitRequest is the body of POST /responses.
type SubmitRequest struct {
	// Folder holding the engine's models. Only the first successful submit configures the engine.
	// example: /tmp/model
	WorkFolder string `json:"work_folder" example:"/tmp/model"`
	// Request string handed to the engine (a ChatRequest encoded as JSON).
	Request string `json:"request"`
}

// SubmitResponse is returned by POST /responses.
type SubmitResponse struct {
	// Opaque handle; 0 means the submit was rejected.
	// example: 4294967296
	Handle uint64 `json:"handle" example:"4294967296"`
}

// PollResponse is returned by GET /responses/{handle}. An empty chunk means no
// data is available yet; a chunk prefixed "[ERROR]: " reports a failure.
type PollResponse struct {
	Chunk string `json:"chunk"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Work folder the engine was initialized with; empty before the first submit.
	WorkFolder string `json:"work_folder"`
	// Number of responses currently held by the table.
	LiveResponses int `json:"live_responses"`
	// Handles of live responses.
	Handles []uint64 `json:"handles"`
	// Total submits accepted since start.
	SubmitsTotal uint64 `json:"submits_total"`
	// Total releases performed since start.
	ReleasesTotal uint64 `json:"releases_total"`
	// Uptime of the process in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
}
