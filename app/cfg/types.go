package cfg

type Cfg struct {
	// Storage configuration
	DBPath      string
	DataDir     string
	TempDir     string
	ChannelsDir string

	// Pipeline configuration
	MaxConcurrentDownloads int
	DownloadPollInterval   int // seconds
	RefreshInterval        int // seconds
	MaxDownloadAttempts    int
	WorkersEnabled         bool

	// External tools
	YtDlpPath   string
	FFmpegPath  string
	FFprobePath string

	// Application configuration
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
