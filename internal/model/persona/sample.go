package persona

// Sample is the canned persona substituted when the user opts into sample data.
func Sample() Persona {
	return Persona{
		Income:        75000.0,
		Expenses:      3200.0,
		Savings:       25000.0,
		Goals:         []any{"buying a home", "retirement"},
		RiskTolerance: "moderate",
		Debt:          12000.0,
	}
}
