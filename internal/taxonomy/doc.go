// Package taxonomy owns the category catalogue, alias resolution, entity key
// normalization for artists and labels, and the built-in seed knowledge base
// of well-known labels and artists.
package taxonomy
