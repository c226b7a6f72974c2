package budgets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/db"
	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

// Repository persists budgets, their sections, additional lines and totals.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, b Budget) (int64, error)
	Get(ctx context.Context, id int64) (*Budget, error)
	GetSummary(ctx context.Context, id int64) (*pricing.BudgetSummary, error)
	// ReplaceLines makes lines the full line list of the budget and returns
	// the persisted id of each line in order. Lines with a non-positive id are
	// inserted.
	ReplaceLines(ctx context.Context, budgetID int64, lines []pricing.AdditionalLine) ([]int64, error)
	ReplaceTotals(ctx context.Context, budgetID int64, summary pricing.BudgetSummary) error
	UpdateSection(ctx context.Context, budgetID int64, s pricing.SectionContribution) error
	SetVATPercentage(ctx context.Context, budgetID int64, vat float64) error
	// RecentIDs lists budgets updated at or after since, newest first.
	RecentIDs(ctx context.Context, since time.Time, limit int) ([]int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Create(ctx context.Context, b Budget) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO budgets (number, title, customer_name, customer_email, currency, vat_percentage, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		b.Number, b.Title, b.CustomerName, b.CustomerEmail, b.Currency, b.VATPercentage, b.IssuedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: number %q already used", ErrDuplicate, b.Number)
		}
		return 0, fmt.Errorf("insert budget: %w", err)
	}

	for i, s := range b.Sections {
		entries, err := json.Marshal(nonNilEntries(s.Entries))
		if err != nil {
			return 0, fmt.Errorf("encode entries: %w", err)
		}
		_, err = r.db.Exec(ctx, `
			INSERT INTO budget_sections (budget_id, kind, position, title, body, entries, raw_total, visible)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, string(s.Kind), i, s.Title, s.Body, entries, s.Total(), s.Visible,
		)
		if err != nil {
			return 0, fmt.Errorf("insert section %s: %w", s.Kind, err)
		}
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Budget, error) {
	var b Budget
	err := r.db.QueryRow(ctx, `
		SELECT id, number, title, customer_name, customer_email, currency, vat_percentage, issued_at, updated_at
		FROM budgets WHERE id = $1`, id,
	).Scan(&b.ID, &b.Number, &b.Title, &b.CustomerName, &b.CustomerEmail, &b.Currency, &b.VATPercentage, &b.IssuedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get budget: %w", err)
	}

	if b.Sections, err = r.sections(ctx, id); err != nil {
		return nil, err
	}
	if b.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}

	summary, err := r.GetSummary(ctx, id)
	switch {
	case err == nil:
		b.Summary = summary
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return &b, nil
}

func (r *repository) sections(ctx context.Context, budgetID int64) ([]Section, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kind, position, title, body, entries, raw_total, visible
		FROM budget_sections WHERE budget_id = $1
		ORDER BY position, kind`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	out := make([]Section, 0, 4)
	for rows.Next() {
		var (
			s       Section
			kind    string
			entries []byte
		)
		if err := rows.Scan(&kind, &s.Position, &s.Title, &s.Body, &entries, &s.RawTotal, &s.Visible); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		s.Kind = pricing.SectionKind(kind)
		if len(entries) > 0 {
			if err := json.Unmarshal(entries, &s.Entries); err != nil {
				return nil, fmt.Errorf("decode entries of %s: %w", kind, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repository) lines(ctx context.Context, budgetID int64) ([]pricing.AdditionalLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, concept, amount, concept_type, valid_until
		FROM budget_lines WHERE budget_id = $1
		ORDER BY position, id`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	out := make([]pricing.AdditionalLine, 0)
	for rows.Next() {
		var (
			l     pricing.AdditionalLine
			ctype string
			until *time.Time
		)
		if err := rows.Scan(&l.ID, &l.Concept, &l.Amount, &ctype, &until); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		l.ConceptType = pricing.ConceptType(ctype)
		l.ValidUntil = until
		out = append(out, pricing.Normalize(l))
	}
	return out, rows.Err()
}

func (r *repository) GetSummary(ctx context.Context, id int64) (*pricing.BudgetSummary, error) {
	var (
		s     pricing.BudgetSummary
		lines []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT total_blocks, total_items, total_simple_block, taxable_base, vat, vat_percentage, grand_total, additional_lines
		FROM budget_totals WHERE budget_id = $1`, id,
	).Scan(&s.TotalBlocks, &s.TotalItems, &s.TotalSimpleBlock, &s.TaxableBase, &s.VAT, &s.VATPercentage, &s.GrandTotal, &lines)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get summary: %w", err)
	}
	s.AdditionalLines = make([]pricing.AdditionalLine, 0)
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &s.AdditionalLines); err != nil {
			return nil, fmt.Errorf("decode summary lines: %w", err)
		}
	}
	return &s, nil
}

func (r *repository) ReplaceLines(ctx context.Context, budgetID int64, lines []pricing.AdditionalLine) ([]int64, error) {
	keep := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ID > 0 {
			keep = append(keep, l.ID)
		}
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM budget_lines WHERE budget_id = $1 AND NOT (id = ANY($2))`, budgetID, keep); err != nil {
		return nil, fmt.Errorf("delete lines: %w", err)
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		if l.ID > 0 {
			tag, err := r.db.Exec(ctx, `
				UPDATE budget_lines
				SET position = $3, concept = $4, amount = $5, concept_type = $6, valid_until = $7
				WHERE id = $1 AND budget_id = $2`,
				l.ID, budgetID, i, l.Concept, l.Amount, string(l.ConceptType), l.ValidUntil,
			)
			if err != nil {
				return nil, fmt.Errorf("update line %d: %w", l.ID, err)
			}
			if tag.RowsAffected() == 1 {
				ids[i] = l.ID
				continue
			}
		}
		err := r.db.QueryRow(ctx, `
			INSERT INTO budget_lines (budget_id, position, concept, amount, concept_type, valid_until)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			budgetID, i, l.Concept, l.Amount, string(l.ConceptType), l.ValidUntil,
		).Scan(&ids[i])
		if err != nil {
			return nil, fmt.Errorf("insert line: %w", err)
		}
	}
	return ids, nil
}

func (r *repository) ReplaceTotals(ctx context.Context, budgetID int64, s pricing.BudgetSummary) error {
	lines, err := json.Marshal(nonNilLines(s.AdditionalLines))
	if err != nil {
		return fmt.Errorf("encode summary lines: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO budget_totals (budget_id, total_blocks, total_items, total_simple_block, taxable_base, vat, vat_percentage, grand_total, additional_lines, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (budget_id) DO UPDATE SET
			total_blocks = EXCLUDED.total_blocks,
			total_items = EXCLUDED.total_items,
			total_simple_block = EXCLUDED.total_simple_block,
			taxable_base = EXCLUDED.taxable_base,
			vat = EXCLUDED.vat,
			vat_percentage = EXCLUDED.vat_percentage,
			grand_total = EXCLUDED.grand_total,
			additional_lines = EXCLUDED.additional_lines,
			updated_at = now()`,
		budgetID, s.TotalBlocks, s.TotalItems, s.TotalSimpleBlock, s.TaxableBase, s.VAT, s.VATPercentage, s.GrandTotal, lines,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("replace totals: %w", err)
	}
	return nil
}

func (r *repository) UpdateSection(ctx context.Context, budgetID int64, s pricing.SectionContribution) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE budget_sections SET raw_total = $3, visible = $4
		WHERE budget_id = $1 AND kind = $2`,
		budgetID, string(s.Kind), s.RawTotal, s.Visible,
	)
	if err != nil {
		return fmt.Errorf("update section %s: %w", s.Kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("section %s: %w", s.Kind, ErrNotFound)
	}
	return nil
}

func (r *repository) SetVATPercentage(ctx context.Context, budgetID int64, vat float64) error {
	tag, err := r.db.Exec(ctx, `UPDATE budgets SET vat_percentage = $2, updated_at = now() WHERE id = $1`, budgetID, vat)
	if err != nil {
		return fmt.Errorf("set vat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) RecentIDs(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM budgets
		WHERE updated_at >= $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent budgets: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNilEntries(entries []export.Entry) []export.Entry {
	if entries == nil {
		return []export.Entry{}
	}
	return entries
}

func nonNilLines(lines []pricing.AdditionalLine) []pricing.AdditionalLine {
	if lines == nil {
		return []pricing.AdditionalLine{}
	}
	return lines
}
