package domain

import (
	"fmt"
	"strings"
	"time"
)

// GenerationMode enumerates how a job conditions the video output.
type GenerationMode string

const (
	ModeText  GenerationMode = "text"
	ModeImage GenerationMode = "image"
	ModeVideo GenerationMode = "video"
)

// JobStatus enumerates job lifecycle states. The first five mirror the
// remote service's status echoes; the last three are terminal.
type JobStatus string

const (
	JobStatusQueued        JobStatus = "queued"
	JobStatusPreprocessing JobStatus = "preprocessing"
	JobStatusRunning       JobStatus = "running"
	JobStatusProcessing    JobStatus = "processing"
	JobStatusSucceeded     JobStatus = "succeeded"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// Valid reports whether s is one of the seven known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusPreprocessing, JobStatusRunning,
		JobStatusProcessing, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the controller will never transition s again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ProgressFor maps a remote status echo to the queue's percentage scale.
// Terminal failures and unknown statuses map to zero.
func ProgressFor(s JobStatus) int {
	switch s {
	case JobStatusQueued:
		return 10
	case JobStatusPreprocessing:
		return 25
	case JobStatusRunning:
		return 50
	case JobStatusProcessing:
		return 75
	case JobStatusSucceeded:
		return 100
	case JobStatusFailed, JobStatusCancelled:
		return 0
	default:
		return 0
	}
}

// MovementPreset is a UI-level camera hint appended to the prompt text. It is
// not a remote API parameter.
type MovementPreset string

const (
	MovementNone        MovementPreset = "none"
	MovementTopToBottom MovementPreset = "top-to-bottom"
	MovementBottomToTop MovementPreset = "bottom-to-top"
	MovementLeftToRight MovementPreset = "left-to-right"
	MovementEyeLevel    MovementPreset = "eye-level"
)

// PromptSuffix returns the camera-movement phrase for the preset, or an empty
// string for "none" and unrecognized presets.
func (m MovementPreset) PromptSuffix() string {
	switch m {
	case MovementTopToBottom:
		return "Camera moving from top to bottom."
	case MovementBottomToTop:
		return "Camera moving from bottom to top."
	case MovementLeftToRight:
		return "Camera moving from left to right."
	case MovementEyeLevel:
		return "Camera at eye level."
	default:
		return ""
	}
}

// ResolutionPreset is one of the width/height pairs the remote API accepts,
// with the conservative duration ceiling for that resolution.
type ResolutionPreset struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	MaxDuration int `json:"maxDuration"`
}

// ResolutionPresets is the closed set of resolutions the remote API supports.
var ResolutionPresets = []ResolutionPreset{
	{Width: 480, Height: 480, MaxDuration: 20},
	{Width: 854, Height: 480, MaxDuration: 20},
	{Width: 720, Height: 720, MaxDuration: 15},
	{Width: 1280, Height: 720, MaxDuration: 15},
	{Width: 1080, Height: 1080, MaxDuration: 10},
	{Width: 1920, Height: 1080, MaxDuration: 10},
}

// MaxDurationFor returns the duration ceiling for a resolution pair, or false
// when the pair is not supported.
func MaxDurationFor(width, height int) (int, bool) {
	for _, p := range ResolutionPresets {
		if p.Width == width && p.Height == height {
			return p.MaxDuration, true
		}
	}
	return 0, false
}

const (
	MaxPromptLength = 500
	MinVariants     = 1
	MaxVariants     = 4
)

// GenerationSettings carries the remote API parameters plus the UI helpers
// that shape the prompt.
type GenerationSettings struct {
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Duration       int            `json:"duration"`
	NVariants      int            `json:"nVariants"`
	AspectRatio    string         `json:"aspectRatio,omitempty"`
	MovementPreset MovementPreset `json:"movementPreset,omitempty"`
	MaxDuration    int            `json:"maxDuration,omitempty"`
}

// Validate checks the settings against the resolution/duration contract.
func (s GenerationSettings) Validate() error {
	max, ok := MaxDurationFor(s.Width, s.Height)
	if !ok {
		return fmt.Errorf("%w: unsupported resolution %dx%d", ErrInvalidSettings, s.Width, s.Height)
	}
	if s.Duration < 1 || s.Duration > max {
		return fmt.Errorf("%w: duration %ds out of range for %dx%d (max %ds)", ErrInvalidSettings, s.Duration, s.Width, s.Height, max)
	}
	if s.NVariants < MinVariants || s.NVariants > MaxVariants {
		return fmt.Errorf("%w: variant count %d out of range [%d,%d]", ErrInvalidSettings, s.NVariants, MinVariants, MaxVariants)
	}
	return nil
}

// CropBounds selects the region of a conditioning image or video, expressed
// as fractional edges of the source frame.
type CropBounds struct {
	LeftFraction   float64 `json:"left_fraction"`
	TopFraction    float64 `json:"top_fraction"`
	RightFraction  float64 `json:"right_fraction"`
	BottomFraction float64 `json:"bottom_fraction"`
}

// Validate checks that every edge is in [0,1] and the rectangle is non-empty.
func (c CropBounds) Validate() error {
	for _, f := range []float64{c.LeftFraction, c.TopFraction, c.RightFraction, c.BottomFraction} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: crop fraction %v outside [0,1]", ErrInvalidSettings, f)
		}
	}
	if c.LeftFraction >= c.RightFraction || c.TopFraction >= c.BottomFraction {
		return fmt.Errorf("%w: crop rectangle is empty", ErrInvalidSettings)
	}
	return nil
}

// MediaFile is the binary conditioning payload for image- and video-to-video
// jobs. It never survives serialization; only the fact that it existed does.
type MediaFile struct {
	Filename   string
	Data       []byte
	Type       GenerationMode
	CropBounds CropBounds
	FrameIndex int
}

// Validate checks the payload and its crop rectangle.
func (m *MediaFile) Validate() error {
	if m == nil {
		return nil
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: media payload is empty", ErrInvalidSettings)
	}
	if m.Type != ModeImage && m.Type != ModeVideo {
		return fmt.Errorf("%w: media type %q", ErrInvalidSettings, m.Type)
	}
	if m.FrameIndex < 0 {
		return fmt.Errorf("%w: frame index %d", ErrInvalidSettings, m.FrameIndex)
	}
	return m.CropBounds.Validate()
}

// Job is one user-submitted generation request tracked through its full
// lifecycle. All mutation goes through the queue store.
type Job struct {
	ID          string
	Prompt      string
	Status      JobStatus
	Progress    int
	Settings    GenerationSettings
	Mode        GenerationMode
	Media       *MediaFile
	HadMedia    bool
	CreatedAt   time.Time
	Error       string
	RetryCount  int
	LastRetryAt time.Time
	NextRetryAt time.Time
}

// ValidatePrompt enforces the submission-time prompt contract.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrInvalidPrompt
	}
	if len([]rune(prompt)) > MaxPromptLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPrompt, MaxPromptLength)
	}
	return nil
}

// PromptPreview truncates a prompt for notices and log lines.
func PromptPreview(prompt string) string {
	const max = 30
	runes := []rune(prompt)
	if len(runes) <= max {
		return prompt
	}
	return string(runes[:max]) + "..."
}
