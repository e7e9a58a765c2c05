package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				namespace_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_namespace_id ON workflows(namespace_id);
			CREATE INDEX idx_workflows_organization_id ON workflows(organization_id);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE providers (
				id VARCHAR(255) PRIMARY KEY,
				namespace_id VARCHAR(255) NOT NULL,
				type VARCHAR(100) NOT NULL,
				alias VARCHAR(255) NOT NULL,
				config JSONB DEFAULT '{}',
				secrets JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (namespace_id, type, alias)
			);

			CREATE INDEX idx_providers_namespace_id ON providers(namespace_id);

			CREATE TABLE triggers (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				provider_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(100) NOT NULL,
				input JSONB DEFAULT '{}',
				state JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_workflow_id ON triggers(workflow_id);
			CREATE INDEX idx_triggers_provider_id ON triggers(provider_id);
			CREATE INDEX idx_triggers_trigger_type ON triggers(trigger_type);

			CREATE TABLE incoming_webhooks (
				id VARCHAR(255) PRIMARY KEY,
				path VARCHAR(500) NOT NULL,
				method VARCHAR(10) NOT NULL,
				trigger_id VARCHAR(255),
				provider_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (path, method)
			);

			CREATE TABLE runtimes (
				id VARCHAR(255) PRIMARY KEY,
				image VARCHAR(500) NOT NULL,
				config JSONB DEFAULT '{}',
				config_hash VARCHAR(64) NOT NULL UNIQUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE deployments (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				runtime_id VARCHAR(255) NOT NULL REFERENCES runtimes(id),
				bundle BYTEA,
				active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_deployments_workflow_id ON deployments(workflow_id);
			CREATE UNIQUE INDEX idx_deployments_active
				ON deployments(workflow_id) WHERE active;

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_id VARCHAR(255),
				deployment_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_received_at ON executions(received_at);

			CREATE TABLE execution_logs (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL
			);

			CREATE INDEX idx_execution_logs_execution_id ON execution_logs(execution_id);

			CREATE TABLE jobs (
				id VARCHAR(255) PRIMARY KEY,
				kind VARCHAR(100) NOT NULL,
				payload JSONB DEFAULT '{}',
				attempts INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL DEFAULT 5,
				run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_run_at ON jobs(run_at);

			CREATE TABLE token_revocations (
				token_id VARCHAR(255) PRIMARY KEY,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_token_revocations_expires_at ON token_revocations(expires_at);
		`,
	}
}
