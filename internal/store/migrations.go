package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    analysis_name TEXT NOT NULL,
    data_path TEXT,
    model TEXT,
    status TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS tasks (
    run_id TEXT NOT NULL REFERENCES runs(id),
    task_id TEXT NOT NULL,
    analysis TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    title TEXT,
    proposal TEXT NOT NULL,
    feedback TEXT,
    iteration INTEGER NOT NULL DEFAULT 0,
    fix_attempts INTEGER NOT NULL DEFAULT 0,
    verdict TEXT,
    reason TEXT,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    PRIMARY KEY (run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_task_id ON tasks(task_id);
CREATE INDEX IF NOT EXISTS idx_tasks_verdict ON tasks(verdict);

CREATE TABLE IF NOT EXISTS code_units (
    run_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    source TEXT NOT NULL,
    provenance TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    fix_attempt INTEGER NOT NULL,
    regenerated BOOLEAN DEFAULT FALSE,
    guidance TEXT,
    created_at TIMESTAMP,
    PRIMARY KEY (run_id, task_id, seq),
    FOREIGN KEY (run_id, task_id) REFERENCES tasks(run_id, task_id)
);

CREATE TABLE IF NOT EXISTS execution_results (
    run_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    output TEXT,
    stderr TEXT,
    error_message TEXT,
    traceback TEXT,
    artifacts TEXT,
    duration_ms INTEGER,
    PRIMARY KEY (run_id, task_id, seq),
    FOREIGN KEY (run_id, task_id, seq) REFERENCES code_units(run_id, task_id, seq)
);
`
