package tools

const (
	ArrearsReport     = "get_arrears_report"
	SearchProperties  = "search_properties"
	ExpensesReport    = "get_expenses_report"
	MaintenanceReport = "check_maintenance_report"
)

// The descriptions are what the reasoner reads when choosing a tool. Keep
// their applicability disjoint: anything about an address, value or rent
// belongs to search_properties.
var defaultCatalog = []ToolDefinition{
	{
		Name:        ArrearsReport,
		Description: "Get a report of tenants who are in arrears (owe rent). Returns each tenant's name, property address and the amount owed. Use only for questions about unpaid rent or balances owed by tenants.",
		Parameters: ParameterSchema{
			{Name: "minAmount", Type: TypeNumber, Description: "Minimum amount owed to filter by. Default is 0."},
			{Name: "location", Type: TypeString, Description: "City, postcode or partial address of the tenant's property."},
		},
	},
	{
		Name:        SearchProperties,
		Description: "Search for properties based on location or compliance status. Use this to find property details like rent, value, owner or address. Always use this tool for any question about a specific address, a property's value or its rent.",
		Parameters: ParameterSchema{
			{Name: "location", Type: TypeString, Description: "City, postcode or partial address to search for."},
			{Name: "hasExpiringCerts", Type: TypeBoolean, Description: "If true, only return properties with safety certificates that have expired or expire within 30 days."},
		},
	},
	{
		Name:        ExpensesReport,
		Description: "Get total expenses recorded against a specific landlord, optionally for one category or year. Returns the total, the number of expenses and the individual expense records.",
		Parameters: ParameterSchema{
			{Name: "landlordName", Type: TypeString, Description: "Name of the landlord (fuzzy match).", Required: true},
			{Name: "category", Type: TypeString, Description: "Filter by expense category (e.g., 'Plumbing')."},
			{Name: "year", Type: TypeNumber, Description: "The year to fetch expenses for."},
		},
	},
	{
		Name:        MaintenanceReport,
		Description: "Look up the most recent maintenance report for a tenant's property. Identify the tenant by phone number, or by first and last name when the phone number is unknown.",
		Parameters: ParameterSchema{
			{Name: "phoneNumber", Type: TypeString, Description: "Tenant phone number, full or partial."},
			{Name: "firstName", Type: TypeString, Description: "Tenant first name."},
			{Name: "lastName", Type: TypeString, Description: "Tenant last name."},
		},
	},
}

var defaultRegistry = MustRegistry(defaultCatalog...)

// Default returns the registry of Dori's tools.
func Default() *Registry {
	return defaultRegistry
}
