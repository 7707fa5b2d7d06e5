package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE releases (
				id UUID PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				description TEXT,
				payload JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('DRAFT', 'SCHEDULED', 'APPROVED', 'EXECUTED', 'CANCELLED')),
				scheduled_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_by VARCHAR(255) NOT NULL,
				approved_at TIMESTAMP WITH TIME ZONE,
				approved_by VARCHAR(255),
				executed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_releases_status ON releases(status);
			CREATE INDEX idx_releases_created_at ON releases(created_at);
			CREATE INDEX idx_releases_due ON releases(status, scheduled_at);
		`,
		2: `
			CREATE TABLE release_audit_log (
				id UUID PRIMARY KEY,
				release_id UUID NOT NULL REFERENCES releases(id),
				action VARCHAR(50) NOT NULL,
				performed_by VARCHAR(255) NOT NULL,
				performed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				details TEXT
			);

			CREATE INDEX idx_release_audit_log_release ON release_audit_log(release_id, performed_at DESC);
		`,
		3: `
			CREATE TABLE release_templates (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				description TEXT,
				default_title VARCHAR(255) NOT NULL,
				default_description TEXT,
				default_payload JSONB,
				payload_schema JSONB,
				created_by VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true
			);

			CREATE INDEX idx_release_templates_active ON release_templates(active);
		`,
	}
}
