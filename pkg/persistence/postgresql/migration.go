package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workstations (
				id VARCHAR(255) PRIMARY KEY,
				code VARCHAR(50) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'offline',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE devices (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				device_type VARCHAR(50) NOT NULL DEFAULT '',
				ip_address VARCHAR(64) NOT NULL DEFAULT '',
				port INT NOT NULL DEFAULT 0,
				plc_type VARCHAR(50),
				protocol VARCHAR(50)
			);

			CREATE TABLE process_steps (
				id VARCHAR(255) PRIMARY KEY,
				process_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				sequence INT NOT NULL,
				workstation_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (process_id, sequence)
			);

			CREATE INDEX idx_process_steps_process_id ON process_steps(process_id);

			CREATE TABLE step_actions (
				id VARCHAR(255) PRIMARY KEY,
				step_id VARCHAR(255) NOT NULL REFERENCES process_steps(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL DEFAULT '',
				sequence INT NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				device_id VARCHAR(255),
				address VARCHAR(255) NOT NULL DEFAULT '',
				data_type VARCHAR(50) NOT NULL DEFAULT '',
				expected_value TEXT NOT NULL DEFAULT '',
				validation_rule TEXT NOT NULL DEFAULT '',
				required BOOLEAN NOT NULL DEFAULT false,
				timeout_seconds INT NOT NULL DEFAULT 5,
				retry_count INT NOT NULL DEFAULT 0,
				UNIQUE (step_id, sequence)
			);

			CREATE INDEX idx_step_actions_step_id ON step_actions(step_id);

			CREATE TABLE orders (
				id VARCHAR(255) PRIMARY KEY,
				order_number VARCHAR(255) NOT NULL,
				production_number VARCHAR(255) NOT NULL,
				quantity INT NOT NULL DEFAULT 1,
				status VARCHAR(20) NOT NULL,
				process_id VARCHAR(255),
				current_step_id VARCHAR(255),
				current_station_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_orders_status ON orders(status);
			CREATE INDEX idx_orders_current_station ON orders(current_station_id);

			CREATE TABLE order_status_history (
				id VARCHAR(255) PRIMARY KEY,
				order_id VARCHAR(255) NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				from_status VARCHAR(20) NOT NULL,
				to_status VARCHAR(20) NOT NULL,
				changed_by VARCHAR(255) NOT NULL,
				changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				reason TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_order_status_history_order ON order_status_history(order_id, changed_at DESC);

			CREATE TABLE workstation_sessions (
				id VARCHAR(255) PRIMARY KEY,
				workstation_id VARCHAR(255) NOT NULL,
				username VARCHAR(255) NOT NULL,
				login_time TIMESTAMP WITH TIME ZONE NOT NULL,
				last_activity TIMESTAMP WITH TIME ZONE NOT NULL,
				logout_time TIMESTAMP WITH TIME ZONE,
				active BOOLEAN NOT NULL DEFAULT true,
				termination_reason VARCHAR(20),
				terminated_by VARCHAR(255) NOT NULL DEFAULT '',
				settings JSONB
			);

			CREATE INDEX idx_workstation_sessions_workstation ON workstation_sessions(workstation_id);

			-- Backstop for the exclusivity invariant: at most one session per
			-- workstation may be active with no logout time.
			CREATE UNIQUE INDEX uq_workstation_sessions_active
				ON workstation_sessions(workstation_id)
				WHERE active AND logout_time IS NULL;

			CREATE TABLE action_logs (
				id VARCHAR(255) PRIMARY KEY,
				action_id VARCHAR(255) NOT NULL,
				order_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				device_id VARCHAR(255),
				status VARCHAR(20) NOT NULL,
				request_payload TEXT NOT NULL DEFAULT '',
				response_payload TEXT NOT NULL DEFAULT '',
				actual_value TEXT NOT NULL DEFAULT '',
				validation_result BOOLEAN,
				duration_millis BIGINT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				executed_by VARCHAR(255) NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_action_logs_order ON action_logs(order_id, executed_at DESC);
		`,
	}
}
