package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/doorap/dori/internal/store"
	"github.com/doorap/dori/internal/tools"
)

func (e *Executor) arrearsReport(ctx context.Context, call tools.Call) (Result, error) {
	var q store.ArrearsQuery
	if v, ok := call.Number("minAmount"); ok && v > 0 {
		q.MinAmount = v
	}
	if v, ok := call.String("location"); ok {
		q.Location = strings.TrimSpace(v)
	}
	q.Limit = e.limit(q.MinAmount > 0 || q.Location != "")

	records, err := e.store.TenantsInArrears(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		return sentinel(call.Name, SentinelNoData), nil
	}
	return Result{Data: records}, nil
}

func (e *Executor) searchProperties(ctx context.Context, call tools.Call) (Result, error) {
	var q store.PropertyQuery
	location, _ := call.String("location")
	location = strings.TrimSpace(location)
	q.Location = location
	if expiring, ok := call.Bool("hasExpiringCerts"); ok && expiring {
		q.CertificatesExpiringBy = e.now().Add(e.certWindow).Format("2006-01-02")
	}
	q.Limit = e.limit(q.Location != "" || q.CertificatesExpiringBy != "")

	records, err := e.store.SearchProperties(ctx, q)
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		if location == "" {
			return sentinel(call.Name, "No properties found."), nil
		}
		return sentinel(call.Name, fmt.Sprintf("No properties found matching location '%s'.", location)), nil
	}
	return Result{Data: records}, nil
}

// ExpensesReport is the aggregation returned by get_expenses_report.
type ExpensesReport struct {
	Landlord string                `json:"landlord"`
	Total    float64               `json:"total"`
	Count    int                   `json:"count"`
	Details  []store.ExpenseRecord `json:"details"`
}

func (e *Executor) expensesReport(ctx context.Context, call tools.Call) (Result, error) {
	name, _ := call.String("landlordName")
	landlord, miss, err := e.resolveLandlord(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if miss != "" {
		return sentinel(call.Name, miss), nil
	}

	expenses, err := e.store.ExpensesForLandlord(ctx, landlord.ID)
	if err != nil {
		return Result{}, err
	}

	category, _ := call.String("category")
	category = strings.ToLower(category)
	year, hasYear := call.Number("year")

	report := ExpensesReport{Landlord: landlord.Name, Details: make([]store.ExpenseRecord, 0)}
	for _, x := range expenses {
		if hasYear && expenseYear(x.Date) != fmt.Sprintf("%04d", int(year)) {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(x.Category), category) {
			continue
		}
		report.Total += x.Amount
		report.Details = append(report.Details, x)
	}
	report.Count = len(report.Details)
	return Result{Data: report}, nil
}

// resolveLandlord fuzzy-matches name. When it cannot pick exactly one
// landlord it returns a sentinel text instead. A case-insensitive exact match
// wins over other substring hits; otherwise several hits are reported back as
// ambiguous rather than guessed.
func (e *Executor) resolveLandlord(ctx context.Context, name string) (store.Landlord, string, error) {
	candidates, err := e.store.FindLandlords(ctx, name, landlordCandidates)
	if err != nil {
		return store.Landlord{}, "", err
	}
	switch len(candidates) {
	case 0:
		return store.Landlord{}, fmt.Sprintf("No landlord found matching %q", name), nil
	case 1:
		return candidates[0], "", nil
	}
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return c, "", nil
		}
	}
	names := make([]string, 0, len(candidates))
	for i, c := range candidates {
		if i == landlordCandidates-1 {
			break
		}
		names = append(names, c.Name)
	}
	return store.Landlord{}, fmt.Sprintf("Several landlords match %q: %s. Ask the user which one they mean.",
		name, strings.Join(names, ", ")), nil
}

func expenseYear(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}

// MaintenanceReport is the result of check_maintenance_report.
type MaintenanceReport struct {
	Tenant string                   `json:"tenant"`
	Latest *store.MaintenanceRecord `json:"latest"`
}

func (e *Executor) maintenanceReport(ctx context.Context, call tools.Call) (Result, error) {
	phone, _ := call.String("phoneNumber")
	first, hasFirst := call.String("firstName")
	last, hasLast := call.String("lastName")

	var tenant *store.TenantRecord
	if phone != "" {
		found, err := e.store.FindTenants(ctx, store.TenantQuery{Phone: phone, Limit: 1})
		if err != nil {
			return Result{}, err
		}
		if len(found) > 0 {
			tenant = &found[0]
		}
	}
	if tenant == nil && hasFirst && hasLast {
		found, err := e.store.FindTenants(ctx, store.TenantQuery{FirstName: first, LastName: last, Limit: 1})
		if err != nil {
			return Result{}, err
		}
		if len(found) > 0 {
			tenant = &found[0]
		}
	}
	if tenant == nil {
		if !hasFirst && !hasLast {
			return sentinel(call.Name, "No tenant matched that phone number. Ask for the tenant's first and last name."), nil
		}
		return sentinel(call.Name, fmt.Sprintf("No tenant record found for %s.", strings.TrimSpace(first+" "+last))), nil
	}

	latest, err := e.store.LatestMaintenance(ctx, tenant.PropertyID)
	if err != nil {
		return Result{}, err
	}
	if latest == nil {
		return sentinel(call.Name, fmt.Sprintf("Tenant %s was found, but no maintenance reports are logged for their property.", tenant.Name)), nil
	}
	return Result{Data: MaintenanceReport{Tenant: tenant.Name, Latest: latest}}, nil
}
