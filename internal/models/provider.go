package models

// Provider names used in locators, session material and summaries.
const (
	ProviderThermoFisher = "thermofisher"
	ProviderTCI          = "tci"
	ProviderAldrich      = "aldrich"
)
