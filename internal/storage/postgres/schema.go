package postgres

// Schema defines the PostgreSQL tables for the pgvector memory provider.
// The pgvector extension must be installed; Open verifies it and fails
// otherwise so the caller can fall back to the in-process provider.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_embeddings (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata JSONB,
	embedding vector(768),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_embeddings_created_at
	ON memory_embeddings(created_at);
`
