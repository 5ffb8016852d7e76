// ABOUTME: Semantic search and RAG chat over a user's knowledge base
// ABOUTME: Brute-force cosine ranking plus an OpenAI-compatible LLM client

// Package chat provides semantic search over knowledge points and a
// retrieval-augmented chat service built on top of it.
//
// Search embeds the query, loads the user's stored embeddings, and ranks
// by cosine similarity. The default search surface uses a 0.7 threshold
// and returns up to 5 results; the chat path uses a looser 0.6 threshold
// with 3 results so the model gets context even for fuzzy questions.
//
// Chat builds a system prompt from the matched knowledge points (or a
// fallback prompt when nothing matches) and calls an OpenAI-compatible
// chat-completions endpoint. Search failures degrade gracefully: the chat
// still answers, just without knowledge-base context.
package chat
