package llms

type GenerationOptions struct {
	// MaxLength bounds the number of tokens generated for a single turn.
	MaxLength int
	// Temperature controls sampling randomness. Zero means the client's
	// default.
	Temperature float64
	// StopSequences end generation early when the model emits one of them.
	StopSequences []string
}

type GenerationOption func(*GenerationOptions)

func WithMaxLength(maxLength int) GenerationOption {
	return func(o *GenerationOptions) { o.MaxLength = maxLength }
}

func WithTemperature(temperature float64) GenerationOption {
	return func(o *GenerationOptions) { o.Temperature = temperature }
}

func WithStopSequences(sequences ...string) GenerationOption {
	return func(o *GenerationOptions) {
		o.StopSequences = append(o.StopSequences, sequences...)
	}
}
