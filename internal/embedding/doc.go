// Package embedding generates vector embeddings for knowledge points and
// search queries through any OpenAI-compatible embeddings endpoint.
//
// Stored vectors are clamped to 1536 dimensions regardless of what the
// provider returns, so provider/model changes don't invalidate the stored
// corpus; CosineSimilarity compares the shared prefix when lengths differ.
package embedding
