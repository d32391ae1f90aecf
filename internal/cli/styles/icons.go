package styles

// Nerd Font icons (requires a Nerd Font to display correctly)
const (
	IconVersion   = "" // tag
	IconGitBranch = "" // git branch
	IconCalendar  = "" // calendar
	IconGithub    = "" // github
	IconHeart     = "" // heart
	IconGo        = "" // go gopher

	// Probe / diagnostics
	IconDoctor  = "" // stethoscope
	IconCheck   = "" // check
	IconX       = "" // x
	IconWarning = "" // warning
	IconInfo    = "" // info
	IconPackage = "" // archive/package
	IconVideo   = "" // video camera

	IconConfig = "" // config
	IconCursor = "" // chevron-right
	IconClock  = "" // clock
	IconPlay   = "" // play
	IconStop   = "" // stop
)
