package llm

// DefaultMaxTokens caps generated output when a request does not set
// "max_tokens". QA lists for a single image fit comfortably inside it.
const DefaultMaxTokens = 2048

// Request option keys shared by all providers.
const (
	OptionMaxTokens   = "max_tokens"
	OptionModel       = "model"
	OptionSystem      = "system"
	OptionTemperature = "temperature"
	OptionTopP        = "top_p"
)

// requestOption returns opts[key] if it holds a T that valid accepts, and def
// otherwise. A nil valid accepts every T. Values of the wrong type fall back
// to def rather than failing the request.
func requestOption[T any](opts map[string]any, key string, def T, valid func(T) bool) T {
	v, ok := opts[key].(T)
	if !ok || (valid != nil && !valid(v)) {
		return def
	}
	return v
}
