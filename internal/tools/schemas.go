package tools

// CalculatorInput defines input for the calculator tool.
type CalculatorInput struct {
	Expression string `json:"expression" jsonschema:"The arithmetic expression to evaluate, e.g. '2 + 2 * 3'"`
}

// WeatherInput defines input for the weather tool.
type WeatherInput struct {
	City string `json:"city" jsonschema:"The city name to look up, e.g. 'Taipei'"`
}

// CurrentTimeInput defines input for the current_time tool.
type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA timezone name, e.g. 'Asia/Taipei'. Defaults to UTC"`
}

// SearchInput defines input for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"The search query string"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results to return (1-10, default: 5)"`
}
