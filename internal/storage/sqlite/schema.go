package sqlite

// Schema defines the SQLite schema for Recall.
//
// Uniqueness constraints carry resolution semantics:
//   - entities(name, kind) prevents duplicate entities; concurrent
//     resolutions that both create the same entity race on this index and
//     the loser retries against the winner's row.
//   - entity_aliases(kind, alias) holds every surface form, including each
//     entity's canonical name, so an alias can never collide with another
//     entity's canonical name within the same kind.
//   - mentions(entity_id, source_type, source_id, start_offset) makes
//     re-resolution of a source item idempotent.
//   - edge_evidence rows gate knowledge_edges.count increments to one per
//     (pair, source item), so counts only increase and never double-count.
//
// FTS5 virtual tables are kept in sync with their content tables via
// INSERT/UPDATE/DELETE triggers.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL COLLATE NOCASE,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_seen TIMESTAMP NOT NULL,
	UNIQUE(name, kind)
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

CREATE TABLE IF NOT EXISTS entity_aliases (
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	alias TEXT NOT NULL COLLATE NOCASE,
	UNIQUE(kind, alias)
);

CREATE INDEX IF NOT EXISTS idx_entity_aliases_entity ON entity_aliases(entity_id);

CREATE TABLE IF NOT EXISTS mentions (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	surface TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	snippet TEXT,
	created_at TIMESTAMP NOT NULL,
	UNIQUE(entity_id, source_type, source_id, start_offset)
);

CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions(entity_id);
CREATE INDEX IF NOT EXISTS idx_mentions_source ON mentions(source_type, source_id);

CREATE TABLE IF NOT EXISTS knowledge_edges (
	entity_a TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	entity_b TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP NOT NULL,
	PRIMARY KEY(entity_a, entity_b)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_edges_b ON knowledge_edges(entity_b);

CREATE TABLE IF NOT EXISTS edge_evidence (
	entity_a TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	entity_b TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	PRIMARY KEY(entity_a, entity_b, source_type, source_id)
);

CREATE TABLE IF NOT EXISTS source_items (
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT,
	timestamp TIMESTAMP NOT NULL,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY(source_type, source_id)
);

CREATE INDEX IF NOT EXISTS idx_source_items_type_ts ON source_items(source_type, timestamp);

CREATE VIRTUAL TABLE IF NOT EXISTS source_items_fts USING fts5(
	title, body,
	content='source_items',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS source_items_ai AFTER INSERT ON source_items BEGIN
	INSERT INTO source_items_fts(rowid, title, body)
	VALUES (new.rowid, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS source_items_ad AFTER DELETE ON source_items BEGIN
	INSERT INTO source_items_fts(source_items_fts, rowid, title, body)
	VALUES ('delete', old.rowid, old.title, old.body);
END;

CREATE TRIGGER IF NOT EXISTS source_items_au AFTER UPDATE ON source_items BEGIN
	INSERT INTO source_items_fts(source_items_fts, rowid, title, body)
	VALUES ('delete', old.rowid, old.title, old.body);
	INSERT INTO source_items_fts(rowid, title, body)
	VALUES (new.rowid, new.title, new.body);
END;

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	entity_ids TEXT,
	embedding_id TEXT,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS memory_entities (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	PRIMARY KEY(memory_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content)
	VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content)
	VALUES ('delete', old.rowid, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`
