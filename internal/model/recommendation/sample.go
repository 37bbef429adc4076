package recommendation

// Sample returns the canned recommendation set used when the user opts into
// sample data. Each call returns fresh slices.
func Sample() Set {
	return Set{
		Sample: true,
		Recommendations: []Recommendation{
			{
				Confidence:  0.97,
				Explanation: "Based on your income level, savings amount, and moderate risk tolerance, a managed investment portfolio would help grow your wealth while working towards your home buying goal.",
				Product: Product{
					ID:          "inv-port-01",
					Name:        "Managed Investment Portfolio",
					Description: "Our professionally managed investment portfolio offers diversified investments tailored to your risk profile and financial goals.",
					Features: []string{
						"Professional portfolio management",
						"Diversified investment selection",
						"Regular portfolio rebalancing",
						"Quarterly performance reviews",
						"Tax-efficient investment strategies",
					},
				},
			},
			{
				Confidence:  0.95,
				Explanation: "Your income level and goal to buy a house make you an excellent candidate for our 30-year fixed mortgage product with competitive rates.",
				Product: Product{
					ID:          "mort-30yr-01",
					Name:        "30-Year Fixed Mortgage",
					Description: "Our 30-year fixed mortgage offers stable monthly payments with competitive interest rates to help you achieve your home ownership goals.",
					Features: []string{
						"Fixed interest rate for entire loan term",
						"Predictable monthly payments",
						"No prepayment penalties",
						"Rate lock options",
						"First-time homebuyer programs available",
					},
				},
			},
			{
				Confidence:  0.92,
				Explanation: "With your stated savings goals and moderate risk tolerance, an IRA retirement account would provide tax advantages while building your long-term wealth.",
				Product: Product{
					ID:          "ret-ira-01",
					Name:        "IRA Retirement Account",
					Description: "Our IRA accounts offer tax-advantaged retirement savings with a wide range of investment options to meet your long-term financial goals.",
					Features: []string{
						"Tax-deferred or tax-free growth potential",
						"Multiple investment options",
						"Potential tax deductions",
						"Flexible contribution options",
						"Online account management",
					},
				},
			},
		},
		News: []NewsItem{
			{
				Title:   "Housing Market Continues Strong Growth",
				Summary: "The housing market continues to show strong growth with home prices rising in most metropolitan areas. Analysts suggest this trend may continue through the year, making it a potential opportunity for prospective homebuyers to enter the market before further increases.",
			},
			{
				Title:   "Stock Market Shows Increased Volatility",
				Summary: "Recent economic data has led to increased volatility in the stock market. Financial advisors recommend diversified portfolios and long-term investment strategies to navigate through market fluctuations.",
			},
		},
	}
}
