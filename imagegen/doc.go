// Package imagegen implements the AI image-generation client used by the
// storyboard editor. One code path serves several incompatible backends:
// the wire protocol is inferred from the endpoint URL shape (Gemini-style
// inline-data calls, async task submission with polling, or a generic
// OpenAI-style endpoint), heterogeneous response shapes are normalized to a
// self-contained data URI, and failures are classified into a retryable /
// fatal taxonomy the UI can display directly.
//
// The package holds no state between calls. Every Generate call gets its
// own provider config, its own normalized inputs, and its own retry budget,
// so concurrent calls are safe by construction.
package imagegen
