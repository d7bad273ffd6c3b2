// Package embedding adapts speaker-embedding extractors behind the Backend
// interface.
//
// Every backend declares its output dimension at construction time and tags
// its vectors with its id, so stores and matchers can refuse cross-backend
// comparisons. Two adapters ship: CommandBackend shells out to an extractor
// that prints a JSON vector, HTTPBackend posts clips to an embedding service.
// Registry wires configured backends through a throughput limiter and a
// per-process memo so model loading and repeated clips are paid once.
package embedding
