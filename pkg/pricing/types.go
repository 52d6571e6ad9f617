package pricing

// ModelPricing contains per-model pricing information as written in a
// pricing file.
type ModelPricing struct {
	Model          string  `yaml:"model"`
	InputPer1K     float64 `yaml:"input_per_1k"`
	OutputPer1K    float64 `yaml:"output_per_1k"`
	ImagePerUnit   float64 `yaml:"image_per_unit,omitempty"`
	AudioPerSecond float64 `yaml:"audio_per_second,omitempty"`
}

// ProviderConfig holds YAML-loaded pricing data for a provider.
type ProviderConfig struct {
	Provider string         `yaml:"provider"`
	Updated  string         `yaml:"updated"`
	Models   []ModelPricing `yaml:"models"`
}
