package domain

type HarmCategory string

const (
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

var HarmCategories = []HarmCategory{
	HarmCategoryHateSpeech,
	HarmCategoryHarassment,
	HarmCategorySexuallyExplicit,
	HarmCategoryDangerousContent,
}

type Threshold string

// Thresholds ordered from least to most restrictive; Unspecified leaves the
// backend default in place.
const (
	ThresholdUnspecified      Threshold = "HARM_BLOCK_THRESHOLD_UNSPECIFIED"
	ThresholdBlockNone        Threshold = "BLOCK_NONE"
	ThresholdBlockOnlyHigh    Threshold = "BLOCK_ONLY_HIGH"
	ThresholdBlockMediumAbove Threshold = "BLOCK_MEDIUM_AND_ABOVE"
	ThresholdBlockLowAndAbove Threshold = "BLOCK_LOW_AND_ABOVE"
)

func (t Threshold) Valid() bool {
	switch t {
	case ThresholdUnspecified, ThresholdBlockNone, ThresholdBlockOnlyHigh,
		ThresholdBlockMediumAbove, ThresholdBlockLowAndAbove:
		return true
	}
	return false
}

func (c HarmCategory) Valid() bool {
	for _, known := range HarmCategories {
		if c == known {
			return true
		}
	}
	return false
}

type SafetyPolicy map[HarmCategory]Threshold

type GenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	TopK             *int32   `json:"top_k,omitempty"`
	MaxOutputTokens  int32    `json:"max_output_tokens,omitempty"`
	ResponseMimeType string   `json:"response_mime_type,omitempty"`
}

type SafetySetting struct {
	Category  HarmCategory
	Threshold Threshold
}

type RequestRole string

const (
	RequestRoleSystem RequestRole = "system"
	RequestRoleUser   RequestRole = "user"
	RequestRoleModel  RequestRole = "model"
)

type RequestContent struct {
	Role  RequestRole
	Parts []ContentPart
}

// GenerationRequest is the backend-neutral outbound request. Contents[0]
// is always the system element.
type GenerationRequest struct {
	Model    string
	Contents []RequestContent
	Config   GenerationConfig
	// Safety is sorted by category so identical inputs give identical requests.
	Safety []SafetySetting
}

type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
}

// GenerationResult is a successful backend round trip. A safety block is a
// successful round trip too: Blocked is set and Text is empty.
type GenerationResult struct {
	Text          string
	Usage         Usage
	Blocked       bool
	BlockCategory string
}
