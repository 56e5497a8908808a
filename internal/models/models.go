package models

// Frame is one extracted video frame and its metadata. JSON keys match the
// metadata.json snapshot format.
type Frame struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	SourceVideo string  `json:"video_filename"`
	FrameIndex  int     `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"`
	Caption     string  `json:"description,omitempty"`
}

// HasCaption reports whether captioning produced a description for the frame.
func (f Frame) HasCaption() bool {
	return f.Caption != ""
}

// ScoredFrame is a retrieval result: a frame plus its similarity in [0,1].
type ScoredFrame struct {
	Frame      Frame
	Similarity float64
}

// WorkItem represents a frame queued for captioning
type WorkItem struct {
	FrameID   string
	ImagePath string
	FrameNum  int
	Total     int
}

// CaptionResult is the outcome of captioning one frame
type CaptionResult struct {
	FrameID string
	Caption string
	Err     error
}
