package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaoschain/verdict-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Verification Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Verification Engine schema initialized")
	return nil
}

// SaveWork mirrors a registered work (and later its deadline updates) into
// the works table.
func (s *PostgresStore) SaveWork(ctx context.Context, w *models.Work) error {
	sql := `
		INSERT INTO works
			(work_id, studio, epoch, budget, evidence_pointer, commit_deadline, reveal_deadline, deadlines_set, closed, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (work_id) DO UPDATE
		SET commit_deadline = EXCLUDED.commit_deadline,
		    reveal_deadline = EXCLUDED.reveal_deadline,
		    deadlines_set   = EXCLUDED.deadlines_set,
		    closed          = EXCLUDED.closed;
	`
	_, err := s.pool.Exec(ctx, sql,
		w.ID[:], w.Studio[:], int64(w.Epoch), int64(w.Budget), w.EvidencePointer,
		w.CommitDeadline, w.RevealDeadline, w.DeadlinesSet, w.Closed, w.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert work: %v", err)
	}

	for i, p := range w.Participants {
		participantSQL := `
			INSERT INTO work_participants (work_id, position, worker, weight_bp)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (work_id, position) DO NOTHING;
		`
		if _, err := s.pool.Exec(ctx, participantSQL, w.ID[:], i, p[:], int32(w.Weights[i])); err != nil {
			return fmt.Errorf("failed to insert participant: %v", err)
		}
	}
	return nil
}

// SaveSubmission mirrors a revealed or legacy-ingested submission.
func (s *PostgresStore) SaveSubmission(ctx context.Context, workID [32]byte, sub *models.Submission) error {
	var worker []byte
	if sub.Worker != nil {
		worker = sub.Worker[:]
	}
	sql := `
		INSERT INTO submissions (work_id, validator, worker, scores, stake, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (work_id, validator, worker) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql, workID[:], sub.Validator[:], worker, scoreArray(sub.Scores), int64(sub.Stake), sub.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %v", err)
	}
	return nil
}

// SaveCloseReport persists the complete effect set of one closed work in a
// single transaction: consensus rows, the disbursement ledger, withdrawable
// credits, the residual, and the closed flag. Either everything lands or
// nothing does.
func (s *PostgresStore) SaveCloseReport(ctx context.Context, r *models.WorkCloseReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	consensusSQL := `
		INSERT INTO consensus_results
			(consensus_key, work_id, worker, scores, validator_count, total_stake, quality, computed_at, finalized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (consensus_key) DO NOTHING;
	`
	for i := range r.Consensus {
		c := &r.Consensus[i]
		_, err = tx.Exec(ctx, consensusSQL,
			c.Key[:], c.WorkID[:], c.Worker[:], scoreArray(c.Scores),
			c.ValidatorCount, int64(c.TotalStake), int16(c.Quality), c.ComputedAt, c.Finalized)
		if err != nil {
			return fmt.Errorf("failed to insert consensus result: %v", err)
		}
	}

	disburseSQL := `
		INSERT INTO disbursements (work_id, account, payee, kind, amount, detail)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	credit := func(account, payee models.Address, kind string, amount uint64, detail int64) error {
		if amount == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, disburseSQL, r.WorkID[:], account[:], payee[:], kind, int64(amount), detail); err != nil {
			return fmt.Errorf("failed to insert %s disbursement: %v", kind, err)
		}
		withdrawSQL := `
			INSERT INTO withdrawables (account, amount)
			VALUES ($1, $2)
			ON CONFLICT (account) DO UPDATE
			SET amount = withdrawables.amount + EXCLUDED.amount;
		`
		if _, err := tx.Exec(ctx, withdrawSQL, payee[:], int64(amount)); err != nil {
			return fmt.Errorf("failed to credit withdrawable: %v", err)
		}
		return nil
	}

	if err := credit(r.Studio, r.OrchestratorAcct, "orchestrator_fee", r.Allocation.OrchestratorFee, 0); err != nil {
		return err
	}
	for _, p := range r.WorkerPayouts {
		if err := credit(p.Worker, p.Payee, "worker_reward", p.Amount, int64(p.Quality)); err != nil {
			return err
		}
	}
	for _, v := range r.ValidatorRewards {
		if err := credit(v.Validator, v.Payee, "validator_reward", v.Amount, int64(v.Performance)); err != nil {
			return err
		}
	}

	residualSQL := `
		INSERT INTO residuals (work_id, amount)
		VALUES ($1, $2)
		ON CONFLICT (work_id) DO NOTHING;
	`
	if _, err := tx.Exec(ctx, residualSQL, r.WorkID[:], int64(r.Residual)); err != nil {
		return fmt.Errorf("failed to insert residual: %v", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE works SET closed = TRUE WHERE work_id = $1`, r.WorkID[:]); err != nil {
		return fmt.Errorf("failed to mark work closed: %v", err)
	}

	return tx.Commit(ctx)
}

// scoreArray widens a score vector for the SMALLINT[] columns; a plain
// []uint8 would be encoded as BYTEA by pgx.
func scoreArray(scores []uint8) []int16 {
	out := make([]int16, len(scores))
	for i, s := range scores {
		out[i] = int16(s)
	}
	return out
}

// Withdrawable reads the durable pull-settlement balance of an account.
func (s *PostgresStore) Withdrawable(ctx context.Context, account models.Address) (uint64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx, `SELECT amount FROM withdrawables WHERE account = $1`, account[:]).Scan(&amount)
	if err != nil {
		return 0, err
	}
	return uint64(amount), nil
}

// Disbursement is one row of the payout ledger, for audit reads.
type Disbursement struct {
	WorkID string `json:"work_id"`
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
	Detail int64  `json:"detail"`
}

// DisbursementsFor lists the payout ledger of a work.
func (s *PostgresStore) DisbursementsFor(ctx context.Context, workID [32]byte) ([]Disbursement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT encode(work_id, 'hex'), kind, amount, detail FROM disbursements WHERE work_id = $1 ORDER BY id`, workID[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Disbursement
	for rows.Next() {
		var d Disbursement
		if err := rows.Scan(&d.WorkID, &d.Kind, &d.Amount, &d.Detail); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if out == nil {
		out = []Disbursement{}
	}
	return out, rows.Err()
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
