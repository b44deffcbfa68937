package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	SourcesFile  string
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Scraper tuning
	FetchTimeout   int // seconds
	GeocodeURL     string
	GeocodeDelayMs int
	GeocodeTimeout int // seconds

	// Cache tuning
	ListingCacheTTL   int // seconds
	AggregateCacheTTL int // seconds

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
