package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/driphub/driphub/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS senders (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			hourly_limit INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL REFERENCES senders(id),
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			scheduled_at DATETIME,
			sent_at DATETIME,
			transport_message_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			job_key TEXT NOT NULL UNIQUE,
			email_id TEXT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'pending',
			run_at DATETIME NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_senders_account ON senders(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_account ON campaigns(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_campaign ON emails(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_outstanding ON emails(campaign_id, status) WHERE status IN ('PENDING', 'SCHEDULED')`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_email ON jobs(email_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Accounts ---

func (s *SQLiteStorage) CreateAccount(ctx context.Context, acc *models.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		acc.ID, acc.Name, acc.APIKey, acc.CreatedAt, acc.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Name, &acc.APIKey, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &acc, err
}

func (s *SQLiteStorage) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	var acc models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM accounts WHERE api_key = ?`, apiKey,
	).Scan(&acc.ID, &acc.Name, &acc.APIKey, &acc.CreatedAt, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &acc, err
}

func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var acc models.Account
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.APIKey, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// --- Senders ---

func (s *SQLiteStorage) CreateSender(ctx context.Context, snd *models.Sender) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO senders (id, account_id, name, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		snd.ID, snd.AccountID, snd.Name, snd.Email, snd.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetSender(ctx context.Context, id string) (*models.Sender, error) {
	var snd models.Sender
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, email, created_at FROM senders WHERE id = ?`, id,
	).Scan(&snd.ID, &snd.AccountID, &snd.Name, &snd.Email, &snd.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &snd, err
}

func (s *SQLiteStorage) ListSenders(ctx context.Context, accountID string) ([]models.Sender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, email, created_at FROM senders WHERE account_id = ? ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []models.Sender
	for rows.Next() {
		var snd models.Sender
		if err := rows.Scan(&snd.ID, &snd.AccountID, &snd.Name, &snd.Email, &snd.CreatedAt); err != nil {
			return nil, err
		}
		senders = append(senders, snd)
	}
	return senders, rows.Err()
}

func (s *SQLiteStorage) DeleteSender(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM senders WHERE id = ?`, id)
	return err
}

// --- Campaigns ---

func (s *SQLiteStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, status, hourly_limit, created_at FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.AccountID, &c.Name, &c.Status, &c.HourlyLimit, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &c, err
}

func (s *SQLiteStorage) ListCampaigns(ctx context.Context, accountID string) ([]models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, status, hourly_limit, created_at FROM campaigns WHERE account_id = ? ORDER BY created_at DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Status, &c.HourlyLimit, &c.CreatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *SQLiteStorage) CompleteCampaign(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE id = ? AND status = ?`,
		models.CampaignCompleted, id, models.CampaignProcessing,
	)
	return err
}

func (s *SQLiteStorage) CountOutstandingEmails(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE campaign_id = ? AND status IN (?, ?)`,
		campaignID, models.EmailPending, models.EmailScheduled,
	).Scan(&count)
	return count, err
}

// --- Emails ---

const emailColumns = `id, account_id, campaign_id, sender_id, recipient, subject, body, status,
	scheduled_at, sent_at, transport_message_id, error_message, retry_count, created_at`

func scanEmail(row interface{ Scan(...interface{}) error }) (*models.Email, error) {
	var e models.Email
	err := row.Scan(&e.ID, &e.AccountID, &e.CampaignID, &e.SenderID, &e.Recipient, &e.Subject,
		&e.Body, &e.Status, &e.ScheduledAt, &e.SentAt, &e.TransportMessageID, &e.ErrorMessage,
		&e.RetryCount, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStorage) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStorage) ListCampaignEmails(ctx context.Context, campaignID string) ([]models.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE campaign_id = ? ORDER BY created_at ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func (s *SQLiteStorage) CampaignEmailStats(ctx context.Context, campaignID string) (map[models.EmailStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM emails WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[models.EmailStatus]int64)
	for rows.Next() {
		var status models.EmailStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *SQLiteStorage) AccountSummary(ctx context.Context, accountID string) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'SENT'),
			COUNT(*) FILTER (WHERE status IN ('PENDING', 'SCHEDULED')),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		 FROM emails WHERE account_id = ?`, accountID,
	).Scan(&sum.Sent, &sum.Scheduled, &sum.Failed)
	return &sum, err
}

func (s *SQLiteStorage) GetEmailForDelivery(ctx context.Context, emailID string) (*DeliveryContext, error) {
	var dc DeliveryContext
	e := &dc.Email
	err := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.account_id, e.campaign_id, e.sender_id, e.recipient, e.subject, e.body,
			e.status, e.scheduled_at, e.sent_at, e.transport_message_id, e.error_message,
			e.retry_count, e.created_at, s.name, s.email, c.hourly_limit
		 FROM emails e
		 JOIN senders s ON e.sender_id = s.id
		 JOIN campaigns c ON e.campaign_id = c.id
		 WHERE e.id = ?`, emailID,
	).Scan(&e.ID, &e.AccountID, &e.CampaignID, &e.SenderID, &e.Recipient, &e.Subject, &e.Body,
		&e.Status, &e.ScheduledAt, &e.SentAt, &e.TransportMessageID, &e.ErrorMessage,
		&e.RetryCount, &e.CreatedAt, &dc.SenderName, &dc.SenderEmail, &dc.CampaignHourlyLimit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &dc, err
}

func (s *SQLiteStorage) MarkEmailSent(ctx context.Context, id string, sentAt time.Time, transportMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, sent_at = ?, transport_message_id = ?, error_message = '' WHERE id = ?`,
		models.EmailSent, sentAt, transportMessageID, id,
	)
	return err
}

func (s *SQLiteStorage) MarkEmailFailed(ctx context.Context, id string, errorMessage string, countRetry bool) error {
	if countRetry {
		_, err := s.db.ExecContext(ctx,
			`UPDATE emails SET status = ?, error_message = ?, retry_count = retry_count + 1 WHERE id = ?`,
			models.EmailFailed, errorMessage, id,
		)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, error_message = ? WHERE id = ?`,
		models.EmailFailed, errorMessage, id,
	)
	return err
}

// --- Scheduling ---

func (s *SQLiteStorage) ScheduleCampaign(ctx context.Context, c *models.Campaign, emails []models.Email, jobs []models.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO campaigns (id, account_id, name, status, hourly_limit, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Name, c.Status, c.HourlyLimit, c.CreatedAt,
	); err != nil {
		return err
	}

	for i := range emails {
		e := &emails[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO emails (`+emailColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AccountID, e.CampaignID, e.SenderID, e.Recipient, e.Subject, e.Body, e.Status,
			e.ScheduledAt, e.SentAt, e.TransportMessageID, e.ErrorMessage, e.RetryCount, e.CreatedAt,
		); err != nil {
			return err
		}
	}

	for i := range jobs {
		j := &jobs[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, job_key, email_id, status, run_at, attempts, last_error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.ID, j.Key, j.EmailID, j.Status, j.RunAt, j.Attempts, j.LastError, j.CreatedAt, j.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Jobs ---

func (s *SQLiteStorage) EnqueueJob(ctx context.Context, job *models.Job) error {
	// INSERT OR IGNORE makes a second enqueue with the same key a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jobs (id, job_key, email_id, status, run_at, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Key, job.EmailID, job.Status, job.RunAt, job.Attempts, job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_key, email_id, status, run_at, attempts, last_error, created_at, updated_at
		 FROM jobs WHERE status = ? AND run_at <= ?
		 ORDER BY run_at ASC LIMIT ?`,
		models.JobPending, now, limit)
	if err != nil {
		return nil, err
	}

	var due []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Key, &j.EmailID, &j.Status, &j.RunAt, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Claim with a compare-and-set so a job is only ever active once, even
	// with concurrent pollers on the same database.
	var claimed []models.Job
	for _, j := range due {
		res, err := s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.JobActive, now, j.ID, models.JobPending)
		if err != nil {
			return claimed, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			j.Status = models.JobActive
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

func (s *SQLiteStorage) ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	// An active job whose lease ran out means the process died between
	// claim and resolve. Returning it to pending re-runs the attempt.
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		models.JobPending, time.Now().UTC(), models.JobActive, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		models.JobCompleted, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) RetryJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.JobPending, runAt, attempts, lastError, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) FailJob(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.JobFailed, attempts, lastError, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStorage) PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		models.JobCompleted, models.JobFailed, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, accountID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE account_id = ?`, accountID).Scan(&stats.TotalCampaigns)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaigns WHERE account_id = ? AND status = 'COMPLETED'`, accountID).Scan(&stats.CompletedCampaigns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE account_id = ?`, accountID).Scan(&stats.TotalEmails)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE account_id = ? AND status = 'SENT'`, accountID).Scan(&stats.SentCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE account_id = ? AND status = 'FAILED'`, accountID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE account_id = ? AND status IN ('PENDING', 'SCHEDULED')`, accountID).Scan(&stats.ScheduledCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM senders WHERE account_id = ?`, accountID).Scan(&stats.TotalSenders)

	if stats.TotalEmails > 0 {
		stats.SuccessRate = float64(stats.SentCount) / float64(stats.TotalEmails) * 100
	}

	return stats, nil
}
