package domain

import "time"

// TieBreakLatestMtime names the duplicate-resolution policy applied when a
// scene index maps to more than one artifact of the same kind.
const TieBreakLatestMtime = "latest-mtime"

// ReconstructedScene is a scene rebuilt from artifact files alone. The json
// tags fix the shape persisted in the saved-story catalog payload.
type ReconstructedScene struct {
	Index    int    `json:"index"`
	ImageRef string `json:"image_ref"`
	AudioRef string `json:"audio_ref"`
}

// ReconstructedStory is a best-effort story view assembled from a job folder
// by the reconciliation engine. Reconstructed is always true so consumers can
// tell it apart from tracker state; Skipped counts directory entries that were
// ignored as unparseable or partial.
type ReconstructedStory struct {
	ID            string
	Title         string
	GradeLevel    string
	Scenes        []ReconstructedScene
	Reconstructed bool
	TieBreak      string
	Skipped       int
	RebuiltAt     time.Time
}
