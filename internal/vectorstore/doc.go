// Package vectorstore holds the reference index the knowledge retriever
// searches.
//
// An Index stores precomputed embeddings for knowledge chunks and answers
// nearest-neighbor queries. Embedding is the caller's job, so the same index
// works with any embeddings provider as long as the dimension stays fixed.
//
// Two implementations exist:
//   - ChromemIndex: chromem-go embedded database persisted to a directory.
//     No external service; the default.
//   - QdrantIndex: Qdrant over native gRPC, with retry of transient
//     failures and a circuit breaker.
//
// Both are safe for concurrent Search calls from many consultations.
package vectorstore
