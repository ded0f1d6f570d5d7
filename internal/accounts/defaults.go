package accounts

import "github.com/cleared-dev/ledger/internal/model"

// DefaultChart returns a starter chart of accounts for an entity type.
// Parents precede their children.
func DefaultChart(entityType string) []Record {
	switch entityType {
	case "trading_company":
		return append(serviceCompanyChart(), tradingExtras()...)
	default:
		return serviceCompanyChart()
	}
}

func serviceCompanyChart() []Record {
	return []Record{
		{Code: "1000", Name: "Current Assets", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, Active: true},
		{Code: "1000.01", Name: "Cash at Bank", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, ParentCode: "1000", Active: true},
		{Code: "1000.02", Name: "Petty Cash", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, ParentCode: "1000", Active: true},
		{Code: "1000.03", Name: "Accounts Receivable", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, ParentCode: "1000", Active: true},
		{Code: "1000.04", Name: "Input Tax Recoverable", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, ParentCode: "1000", Active: true},
		{Code: "1100", Name: "Fixed Assets", Type: model.AccountTypeAsset, Classification: model.ClassFixedAsset, Active: true},
		{Code: "1100.01", Name: "Computer Equipment", Type: model.AccountTypeAsset, Classification: model.ClassFixedAsset, ParentCode: "1100", Active: true},
		{Code: "2000", Name: "Current Liabilities", Type: model.AccountTypeLiability, Classification: model.ClassCurrentLiability, Active: true},
		{Code: "2000.01", Name: "Accounts Payable", Type: model.AccountTypeLiability, Classification: model.ClassCurrentLiability, ParentCode: "2000", Active: true},
		{Code: "2000.02", Name: "Output Tax Payable", Type: model.AccountTypeLiability, Classification: model.ClassCurrentLiability, ParentCode: "2000", Active: true},
		{Code: "2000.03", Name: "Credit Card", Type: model.AccountTypeLiability, Classification: model.ClassCurrentLiability, ParentCode: "2000", Active: true},
		{Code: "3000", Name: "Equity", Type: model.AccountTypeEquity, Classification: model.ClassCapital, Active: true},
		{Code: "3000.01", Name: "Owner's Capital", Type: model.AccountTypeEquity, Classification: model.ClassCapital, ParentCode: "3000", Active: true},
		{Code: "3000.02", Name: "Retained Earnings", Type: model.AccountTypeEquity, Classification: model.ClassRetainedEarnings, ParentCode: "3000", Active: true},
		{Code: "4000", Name: "Revenue", Type: model.AccountTypeIncome, Classification: model.ClassOperatingIncome, Active: true},
		{Code: "4000.01", Name: "Service Revenue", Type: model.AccountTypeIncome, Classification: model.ClassOperatingIncome, ParentCode: "4000", Active: true},
		{Code: "4000.02", Name: "Interest Income", Type: model.AccountTypeIncome, Classification: model.ClassOtherIncome, ParentCode: "4000", Active: true},
		{Code: "5000", Name: "Operating Expenses", Type: model.AccountTypeExpense, Classification: model.ClassOperatingExpense, Active: true},
		{Code: "5000.01", Name: "Software & SaaS", Type: model.AccountTypeExpense, Classification: model.ClassOperatingExpense, ParentCode: "5000", Active: true, RequireCostCenter: true},
		{Code: "5000.02", Name: "Office Supplies", Type: model.AccountTypeExpense, Classification: model.ClassOperatingExpense, ParentCode: "5000", Active: true},
		{Code: "5000.03", Name: "Professional Services", Type: model.AccountTypeExpense, Classification: model.ClassOperatingExpense, ParentCode: "5000", Active: true, RequireProject: true},
		{Code: "5000.04", Name: "Bank Charges", Type: model.AccountTypeExpense, Classification: model.ClassOtherExpense, ParentCode: "5000", Active: true},
	}
}

func tradingExtras() []Record {
	return []Record{
		{Code: "1000.05", Name: "Inventory", Type: model.AccountTypeAsset, Classification: model.ClassCurrentAsset, ParentCode: "1000", Active: true},
		{Code: "4000.03", Name: "Product Sales", Type: model.AccountTypeIncome, Classification: model.ClassOperatingIncome, ParentCode: "4000", Active: true},
		{Code: "5100", Name: "Cost of Sales", Type: model.AccountTypeExpense, Classification: model.ClassCostOfSales, Active: true},
		{Code: "5100.01", Name: "Purchases", Type: model.AccountTypeExpense, Classification: model.ClassCostOfSales, ParentCode: "5100", Active: true},
	}
}
