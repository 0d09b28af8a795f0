package store

// schemaVersion is bumped whenever schemaDDL changes shape.
const schemaVersion = 2

// schemaDDL creates the narrative tables and the collaborator tables this service
// reads. Statements are idempotent.
var schemaDDL = `
CREATE TABLE IF NOT EXISTS narrative_schema_version (version INTEGER NOT NULL);

-- Collaborator records (read side)

CREATE TABLE IF NOT EXISTS projects (
	project_id         TEXT PRIMARY KEY,
	owner_id           TEXT NOT NULL,
	name               TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	industry           TEXT NOT NULL DEFAULT '',
	staleness_severity TEXT NOT NULL DEFAULT 'none',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS founder_profiles (
	project_id   TEXT PRIMARY KEY REFERENCES projects(project_id),
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	background   TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	website_url  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS evidence_items (
	evidence_id        TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL REFERENCES projects(project_id),
	title              TEXT NOT NULL DEFAULT '',
	summary            TEXT NOT NULL DEFAULT '',
	evidence_type      TEXT NOT NULL DEFAULT '',
	narrative_category TEXT NOT NULL DEFAULT '',
	metric             TEXT NOT NULL DEFAULT '',
	value              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS evidence_items_project_idx ON evidence_items(project_id);

CREATE TABLE IF NOT EXISTS hypotheses (
	hypothesis_id TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(project_id),
	statement     TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS value_propositions (
	vp_id      TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(project_id),
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validation_states (
	state_id   TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(project_id),
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id     TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES projects(project_id),
	checkpoint_type TEXT NOT NULL,
	decision        TEXT NOT NULL,
	decided_by      TEXT NOT NULL DEFAULT '',
	payload         JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_tokens (
	token_hash TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	scopes     TEXT[] NOT NULL DEFAULT '{}',
	revoked_at TIMESTAMPTZ
);

-- Narrative records

CREATE TABLE IF NOT EXISTS narratives (
	narrative_id       TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL UNIQUE REFERENCES projects(project_id),
	narrative_data     JSONB NOT NULL,
	generation_hash    TEXT NOT NULL,
	alignment_status   TEXT NOT NULL,
	alignment_issues   JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_edited          BOOLEAN NOT NULL DEFAULT false,
	is_published       BOOLEAN NOT NULL DEFAULT false,
	published_at       TIMESTAMPTZ,
	first_published_at TIMESTAMPTZ,
	generated_from     TEXT NOT NULL DEFAULT 'synthesizer',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS narrative_versions (
	version_id     TEXT PRIMARY KEY,
	narrative_id   TEXT NOT NULL REFERENCES narratives(narrative_id),
	version_number INTEGER NOT NULL,
	narrative_data JSONB NOT NULL,
	trigger_reason TEXT NOT NULL,
	fit_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (narrative_id, version_number)
);

CREATE TABLE IF NOT EXISTS narrative_edits (
	edit_id      BIGSERIAL PRIMARY KEY,
	narrative_id TEXT NOT NULL REFERENCES narratives(narrative_id),
	edited_at    TIMESTAMPTZ NOT NULL,
	section      TEXT NOT NULL,
	field        TEXT NOT NULL,
	old_value    JSONB,
	new_value    JSONB,
	edit_source  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS narrative_edits_narrative_idx ON narrative_edits(narrative_id, edit_id);

CREATE TABLE IF NOT EXISTS evidence_packages (
	package_id      TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES projects(project_id),
	evidence_data   JSONB NOT NULL,
	integrity_hash  TEXT NOT NULL,
	founder_consent BOOLEAN NOT NULL DEFAULT false,
	is_primary      BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS evidence_packages_primary_idx ON evidence_packages(project_id) WHERE is_primary;

CREATE TABLE IF NOT EXISTS narrative_exports (
	export_id           TEXT PRIMARY KEY,
	narrative_id        TEXT NOT NULL REFERENCES narratives(narrative_id),
	token_hash          TEXT NOT NULL UNIQUE,
	generation_hash     TEXT NOT NULL,
	venture_name        TEXT NOT NULL,
	validation_stage    TEXT NOT NULL,
	format              TEXT NOT NULL,
	include_qr_code     BOOLEAN NOT NULL DEFAULT false,
	include_evidence    BOOLEAN NOT NULL DEFAULT false,
	evidence_package_id TEXT REFERENCES evidence_packages(package_id),
	exported_at         TIMESTAMPTZ NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS narrative_idempotency_records (
	actor_id        TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	endpoint        TEXT NOT NULL,
	request_hash    TEXT NOT NULL DEFAULT '',
	response_status INTEGER NOT NULL,
	response_body   JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (actor_id, idempotency_key, endpoint)
);

ALTER TABLE narrative_idempotency_records ADD COLUMN IF NOT EXISTS request_hash TEXT NOT NULL DEFAULT '';
`
