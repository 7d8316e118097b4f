package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// DefaultLimit bounds queries whose caller did not pass a limit.
const DefaultLimit = 50

// SafetyCertificate is the document type that carries gas/electrical safety
// expiry dates.
const SafetyCertificate = "Safety Certificate"

type dialect interface {
	placeholder(n int) string
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

// query accumulates SQL text and its positional arguments.
type query struct {
	d    dialect
	sb   strings.Builder
	args []any
}

func (q *query) write(s string) *query {
	q.sb.WriteString(s)
	return q
}

// arg appends v and writes its placeholder.
func (q *query) arg(v any) *query {
	q.args = append(q.args, v)
	q.sb.WriteString(q.d.placeholder(len(q.args)))
	return q
}

// contains writes a case-insensitive substring predicate on col.
func (q *query) contains(col, needle string) *query {
	q.write("LOWER(" + col + ") LIKE ")
	q.arg("%" + escapeLike(strings.ToLower(needle)) + "%")
	return q.write(` ESCAPE '\'`)
}

func (q *query) String() string { return q.sb.String() }

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// SQLStore implements Store over database/sql. The same statements run on
// SQLite and Postgres; only placeholders differ.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

func (s *SQLStore) newQuery() *query { return &query{d: s.d} }

// DB returns the underlying handle. Do not close it directly; use Close.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) TenantsInArrears(ctx context.Context, aq ArrearsQuery) ([]ArrearsRecord, error) {
	q := s.newQuery()
	q.write(`SELECT t.name, COALESCE(p.address, ''), COALESCE(p.postcode, ''), t.balance
FROM tenants t
LEFT JOIN properties p ON p.id = t.property_id
WHERE NOT COALESCE(t.is_archived, FALSE) AND t.balance > `).arg(aq.MinAmount)
	if aq.Location != "" {
		q.write(" AND (").contains("p.address", aq.Location).write(" OR ").contains("p.postcode", aq.Location).write(")")
	}
	q.write(" ORDER BY t.balance DESC, t.name LIMIT ").arg(limitOrDefault(aq.Limit))

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("tenants in arrears: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]ArrearsRecord, 0)
	for rows.Next() {
		var r ArrearsRecord
		if err := rows.Scan(&r.Tenant, &r.Property, &r.Postcode, &r.AmountOwed); err != nil {
			return nil, fmt.Errorf("tenants in arrears scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SearchProperties(ctx context.Context, pq PropertyQuery) ([]PropertyRecord, error) {
	q := s.newQuery()
	certFilter := `d.parent_type = 'property' AND d.parent_id = p.id AND d.type = '` + SafetyCertificate + `' AND d.expiry_date IS NOT NULL`
	q.write(`SELECT p.address, COALESCE(p.postcode, ''), COALESCE(p.type, ''), COALESCE(p.owner_name, ''), p.value,
  (SELECT t.rent_amount FROM tenants t
    WHERE t.property_id = p.id AND NOT COALESCE(t.is_archived, FALSE)
    ORDER BY t.lease_start_date DESC LIMIT 1),
  (SELECT MIN(d.expiry_date) FROM documents d WHERE ` + certFilter + `)
FROM properties p
WHERE NOT COALESCE(p.is_archived, FALSE)`)
	if pq.Location != "" {
		q.write(" AND (").contains("p.address", pq.Location).write(" OR ").contains("p.postcode", pq.Location).write(")")
	}
	if pq.CertificatesExpiringBy != "" {
		q.write(" AND EXISTS (SELECT 1 FROM documents d WHERE " + certFilter + " AND d.expiry_date <= ").arg(pq.CertificatesExpiringBy).write(")")
	}
	q.write(" ORDER BY p.address LIMIT ").arg(limitOrDefault(pq.Limit))

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]PropertyRecord, 0)
	for rows.Next() {
		var (
			r           PropertyRecord
			value, rent sql.NullFloat64
			expiry      sql.NullString
		)
		if err := rows.Scan(&r.Address, &r.Postcode, &r.Type, &r.Owner, &value, &rent, &expiry); err != nil {
			return nil, fmt.Errorf("search properties scan: %w", err)
		}
		r.Value = nullFloat(value)
		r.Rent = nullFloat(rent)
		r.CertificateExpiry = dateOnly(expiry.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) FindLandlords(ctx context.Context, name string, limit int) ([]Landlord, error) {
	q := s.newQuery()
	q.write("SELECT id, name FROM landlords WHERE NOT COALESCE(is_archived, FALSE) AND ").contains("name", name)
	q.write(" ORDER BY CASE WHEN LOWER(TRIM(name)) = ").arg(strings.ToLower(strings.TrimSpace(name)))
	q.write(" THEN 0 ELSE 1 END, name LIMIT ").arg(limitOrDefault(limit))

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("find landlords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Landlord
	for rows.Next() {
		var l Landlord
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("find landlords scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) ExpensesForLandlord(ctx context.Context, landlordID string) ([]ExpenseRecord, error) {
	q := s.newQuery()
	q.write("SELECT amount, category, date, COALESCE(description, '') FROM expenses WHERE landlord_id = ").arg(landlordID)
	q.write(" ORDER BY date, id")

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("expenses for landlord: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]ExpenseRecord, 0)
	for rows.Next() {
		var e ExpenseRecord
		if err := rows.Scan(&e.Amount, &e.Category, &e.Date, &e.Description); err != nil {
			return nil, fmt.Errorf("expenses scan: %w", err)
		}
		e.Date = dateOnly(e.Date)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) FindTenants(ctx context.Context, tq TenantQuery) ([]TenantRecord, error) {
	if tq.Phone == "" && tq.FirstName == "" && tq.LastName == "" {
		return nil, nil
	}
	q := s.newQuery()
	q.write("SELECT id, COALESCE(property_id, ''), name FROM tenants WHERE NOT COALESCE(is_archived, FALSE)")
	if tq.Phone != "" {
		q.write(" AND ").contains("phone", tq.Phone)
	}
	if tq.FirstName != "" {
		q.write(" AND ").contains("name", tq.FirstName)
	}
	if tq.LastName != "" {
		q.write(" AND ").contains("name", tq.LastName)
	}
	q.write(" ORDER BY name LIMIT ").arg(limitOrDefault(tq.Limit))

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("find tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TenantRecord
	for rows.Next() {
		var t TenantRecord
		if err := rows.Scan(&t.ID, &t.PropertyID, &t.Name); err != nil {
			return nil, fmt.Errorf("find tenants scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestMaintenance returns nil, nil when the property has no requests.
func (s *SQLStore) LatestMaintenance(ctx context.Context, propertyID string) (*MaintenanceRecord, error) {
	q := s.newQuery()
	q.write(`SELECT issue_title, COALESCE(description, ''), status, COALESCE(priority, ''), reported_date
FROM maintenance_requests WHERE property_id = `).arg(propertyID)
	q.write(" ORDER BY reported_date DESC LIMIT 1")

	var m MaintenanceRecord
	err := s.db.QueryRowContext(ctx, q.String(), q.args...).
		Scan(&m.Title, &m.Description, &m.Status, &m.Priority, &m.ReportedDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest maintenance: %w", err)
	}
	m.ReportedDate = dateOnly(m.ReportedDate)
	return &m, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// dateOnly trims timestamps that drivers hand back for DATE columns.
func dateOnly(s string) string {
	if len(s) > 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}
