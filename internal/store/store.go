// Package store is Dori's read-only view of the property-management
// database. The schema is owned by the CRM; this package only queries it.
package store

import "context"

// Store is the set of reads Dori's tools perform. It deliberately has no
// mutating methods.
type Store interface {
	TenantsInArrears(ctx context.Context, q ArrearsQuery) ([]ArrearsRecord, error)
	SearchProperties(ctx context.Context, q PropertyQuery) ([]PropertyRecord, error)
	// FindLandlords returns substring matches, a case-insensitive exact match first.
	FindLandlords(ctx context.Context, name string, limit int) ([]Landlord, error)
	ExpensesForLandlord(ctx context.Context, landlordID string) ([]ExpenseRecord, error)
	FindTenants(ctx context.Context, q TenantQuery) ([]TenantRecord, error)
	LatestMaintenance(ctx context.Context, propertyID string) (*MaintenanceRecord, error)
}

type ArrearsQuery struct {
	MinAmount float64
	// Location matches the property address or postcode, case-insensitively.
	Location string
	Limit    int
}

type PropertyQuery struct {
	Location string
	// CertificatesExpiringBy, when set (YYYY-MM-DD), keeps only properties
	// with a safety certificate expiring on or before that date.
	CertificatesExpiringBy string
	Limit                  int
}

type TenantQuery struct {
	Phone     string
	FirstName string
	LastName  string
	Limit     int
}

type ArrearsRecord struct {
	Tenant     string  `json:"tenant"`
	Property   string  `json:"property"`
	Postcode   string  `json:"postcode,omitempty"`
	AmountOwed float64 `json:"amountOwed"`
}

type PropertyRecord struct {
	Address           string   `json:"address"`
	Postcode          string   `json:"postcode,omitempty"`
	Type              string   `json:"type,omitempty"`
	Owner             string   `json:"owner,omitempty"`
	Value             *float64 `json:"value,omitempty"`
	Rent              *float64 `json:"rent,omitempty"`
	CertificateExpiry string   `json:"certificateExpiry,omitempty"`
}

type Landlord struct {
	ID   string `json:"-"`
	Name string `json:"name"`
}

type ExpenseRecord struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
}

type TenantRecord struct {
	ID         string `json:"-"`
	PropertyID string `json:"-"`
	Name       string `json:"name"`
}

type MaintenanceRecord struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	Priority     string `json:"priority,omitempty"`
	ReportedDate string `json:"reportedDate"`
}
