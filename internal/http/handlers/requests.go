package handlers

import (
	"time"

	"storyloom/internal/domain"
)

type createStoryRequest struct {
	ID         string `json:"id"`
	GradeLevel string `json:"grade_level"`
	Locale     string `json:"locale"`
	SourceName string `json:"source_name"`
}

type storyMetadataRequest struct {
	Title       string `json:"title"`
	TotalScenes int    `json:"total_scenes"`
}

type failStoryRequest struct {
	Reason string `json:"reason"`
}

type registerSceneRequest struct {
	Index           *int   `json:"index"`
	Text            string `json:"text"`
	CharacterPrompt string `json:"character_prompt"`
}

type stageReportRequest struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

type jobDTO struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	Title           string    `json:"title,omitempty"`
	TotalScenes     int       `json:"total_scenes"`
	CompletedScenes int       `json:"completed_scenes"`
	FailReason      string    `json:"fail_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toJobDTO(job *domain.Job) jobDTO {
	return jobDTO{
		ID:              job.ID,
		Status:          string(job.Status),
		Title:           job.Title,
		TotalScenes:     job.TotalScenes,
		CompletedScenes: job.CompletedScenes,
		FailReason:      job.FailReason,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

type sceneDTO struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	Index           int       `json:"index"`
	Text            string    `json:"text,omitempty"`
	CharacterPrompt string    `json:"character_prompt,omitempty"`
	ImageStatus     string    `json:"image_status"`
	AudioStatus     string    `json:"audio_status"`
	ImageURL        string    `json:"image_url,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	Completed       bool      `json:"completed"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toSceneDTO(scene *domain.Scene) sceneDTO {
	return sceneDTO{
		ID:              scene.ID,
		JobID:           scene.JobID,
		Index:           scene.Index,
		Text:            scene.Text,
		CharacterPrompt: scene.CharacterPrompt,
		ImageStatus:     string(scene.ImageStatus),
		AudioStatus:     string(scene.AudioStatus),
		ImageURL:        scene.ImageURL,
		AudioURL:        scene.AudioURL,
		Completed:       scene.Completed(),
		UpdatedAt:       scene.UpdatedAt,
	}
}

type storyViewDTO struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	GradeLevel    string          `json:"grade_level,omitempty"`
	Scenes        []storySceneDTO `json:"scenes"`
	Reconstructed bool            `json:"reconstructed"`
	TieBreak      string          `json:"tie_break,omitempty"`
	Skipped       int             `json:"skipped"`
	RebuiltAt     time.Time       `json:"rebuilt_at"`
}

type storySceneDTO struct {
	Index    int    `json:"index"`
	ImageRef string `json:"image_ref"`
	AudioRef string `json:"audio_ref"`
}

func toStoryViewDTO(story *domain.ReconstructedStory) storyViewDTO {
	scenes := make([]storySceneDTO, 0, len(story.Scenes))
	for _, s := range story.Scenes {
		scenes = append(scenes, storySceneDTO{Index: s.Index, ImageRef: s.ImageRef, AudioRef: s.AudioRef})
	}
	return storyViewDTO{
		ID:            story.ID,
		Title:         story.Title,
		GradeLevel:    story.GradeLevel,
		Scenes:        scenes,
		Reconstructed: story.Reconstructed,
		TieBreak:      story.TieBreak,
		Skipped:       story.Skipped,
		RebuiltAt:     story.RebuiltAt,
	}
}
