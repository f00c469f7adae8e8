// Package embeddings turns text into vectors for the knowledge index.
//
// Three providers are available: "openai" (any OpenAI-compatible endpoint
// through langchaingo), "tei" (HuggingFace text-embeddings-inference over
// HTTP) and "fastembed" (local ONNX models, cgo builds only). Every provider
// records generation metrics through OpenTelemetry.
package embeddings
